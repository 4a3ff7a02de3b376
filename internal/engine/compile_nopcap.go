//go:build !cgo || nopcap

package engine

import (
	"errors"

	"golang.org/x/net/bpf"
)

// Without the libpcap compiler only the empty, match-everything expression
// can be "compiled". Callers that need real expressions build with cgo and
// without the nopcap tag.
func compileFilter(linkType, snaplen int32, expr string, optimize bool, netmask uint32) ([]bpf.RawInstruction, error) {
	if expr == "" {
		return nil, nil
	}
	return nil, errors.New("filter compilation requires a pcap-enabled build")
}
