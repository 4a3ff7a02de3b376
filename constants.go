package gocap

import "github.com/njeffords/gocap/internal/engine"

// constants, see compliant with pcap-linktype(7) and http://www.tcpdump.org/linktypes.html.
const (
	LinkTypeNull     int32 = 0x0
	LinkTypeEthernet int32 = 0x01
)

// Status codes carried in Error.Code, mirroring the native engine's.
const (
	StatusError        = engine.StatusError
	StatusBreak        = engine.StatusBreak
	StatusNotActivated = engine.StatusNotActivated
	StatusActivated    = engine.StatusActivated
	StatusNoSuchDevice = engine.StatusNoSuchDevice
	StatusPermDenied   = engine.StatusPermDenied
)
