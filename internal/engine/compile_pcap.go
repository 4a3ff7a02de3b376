//go:build cgo && !nopcap

package engine

import (
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// compileFilter hands the expression to the system libpcap compiler. The
// expression syntax and the produced program are opaque to this module;
// optimize and netmask are accepted for interface fidelity but the
// delegate compiler does not take them.
func compileFilter(linkType, snaplen int32, expr string, optimize bool, netmask uint32) ([]bpf.RawInstruction, error) {
	if expr == "" {
		return nil, nil
	}
	insns, err := pcap.CompileBPFFilter(layers.LinkType(linkType), int(snaplen), expr)
	if err != nil {
		return nil, err
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{
			Op: ins.Code,
			Jt: ins.Jt,
			Jf: ins.Jf,
			K:  ins.K,
		}
	}
	return raw, nil
}
