package gocap

import (
	"time"

	"github.com/gopacket/gopacket"
)

// TimeStamp is the native capture timestamp: seconds and microseconds
// since the epoch, with Usec in [0, 1_000_000).
type TimeStamp struct {
	Sec  int64
	Usec int64
}

// Time converts the pair to an absolute time.
func (ts TimeStamp) Time() time.Time {
	return time.Unix(ts.Sec, ts.Usec*int64(time.Microsecond))
}

// PacketHeader describes one delivered packet. It is freshly constructed
// per packet and owned by the callback; CapLen is the number of bytes
// actually captured, Len the original on-wire length.
type PacketHeader struct {
	TS     TimeStamp
	CapLen uint32
	Len    uint32
}

// CaptureInfo adapts the header for gopacket consumers.
func (h PacketHeader) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     h.TS.Time(),
		CaptureLength: int(h.CapLen),
		Length:        int(h.Len),
	}
}
