package gocap

import (
	"fmt"
	"net/netip"

	"github.com/njeffords/gocap/internal/engine"
)

// SockAddr is an owned, typed socket address converted from a native
// sockaddr structure. FlowInfo and ScopeID are meaningful for IPv6 only.
type SockAddr struct {
	IP       netip.Addr
	Port     uint16
	FlowInfo uint32
	ScopeID  uint32
}

func (s SockAddr) String() string {
	if s.IP.Is6() && s.ScopeID != 0 {
		return fmt.Sprintf("%s%%%d:%d", s.IP, s.ScopeID, s.Port)
	}
	return netip.AddrPortFrom(s.IP, s.Port).String()
}

// sockAddrFromRaw classifies raw native sockaddr bytes by family. nil
// input (a null native pointer) and unrecognized families both yield nil;
// no family this module knows about is required to be present on every
// interface, so absence is not an error. Malformed or zeroed structures
// degrade to the zero address of their family rather than failing.
func sockAddrFromRaw(raw []byte) *SockAddr {
	switch engine.SockaddrFamily(raw) {
	case engine.AFInet:
		addr, port := engine.SockaddrInet4(raw)
		return &SockAddr{
			IP:   netip.AddrFrom4(addr),
			Port: port,
		}
	case engine.AFInet6:
		addr, port, flowInfo, scopeID := engine.SockaddrInet6(raw)
		return &SockAddr{
			IP:       netip.AddrFrom16(addr),
			Port:     port,
			FlowInfo: flowInfo,
			ScopeID:  scopeID,
		}
	default:
		return nil
	}
}
