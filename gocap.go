package gocap

import (
	"time"

	"github.com/gopacket/gopacket"

	"github.com/njeffords/gocap/internal/engine"
)

// defaultEngine is the platform capture engine. Tests swap it for a fake.
var defaultEngine engine.Engine = engine.Default()

// FindAllDevs enumerates the capture devices on this host. The returned
// iterator owns the native device list; call Close (or exhaust it) to
// release the list. Records yielded by the iterator are owned copies and
// stay valid forever.
func FindAllDevs() (*NetworkInterfaceIterator, error) {
	errbuf := newErrbuf()
	head, rc := defaultEngine.FindAllDevs(errbuf)
	if rc != engine.StatusOK {
		return nil, errorFromBuf(errbuf, rc)
	}
	return &NetworkInterfaceIterator{eng: defaultEngine, base: head, next: head}, nil
}

// Create opens a capture session on the named interface without
// activating it. Configure the handle, then call Activate. Panics if name
// contains an embedded NUL byte.
func Create(name string) (*Handle, error) {
	mustNotContainNUL(name, "interface name")
	errbuf := newErrbuf()
	sess := defaultEngine.Create(name, errbuf)
	if sess == nil {
		return nil, errorFromBuf(errbuf, engine.StatusError)
	}
	return newHandle(sess), nil
}

// OpenLive creates, configures, and activates a capture session in one
// call. Panics if name contains an embedded NUL byte.
func OpenLive(name string, snaplen int32, promisc bool, timeout time.Duration) (*Handle, error) {
	mustNotContainNUL(name, "interface name")
	errbuf := newErrbuf()
	sess := defaultEngine.OpenLive(name, snaplen, promisc, int32(timeout.Milliseconds()), errbuf)
	if sess == nil {
		return nil, errorFromBuf(errbuf, engine.StatusError)
	}
	return newHandle(sess), nil
}

// Packet is a single captured packet as delivered over a Listen channel.
// B is an owned copy of the payload.
type Packet struct {
	B     []byte
	Info  gopacket.CaptureInfo
	Error error
}

// Listen runs the capture loop on its own goroutine and delivers owned
// packets over the returned channel. The channel is closed when the loop
// ends; if the loop ended because the engine failed, the final Packet on
// the channel carries that error. Stop it with BreakLoop or a LoopBreaker.
// The caller must keep draining the channel until it is closed, or break
// the loop before walking away; an abandoned channel blocks the delivery
// goroutine once its buffer fills.
func (h *Handle) Listen(count int32) <-chan Packet {
	c := make(chan Packet, 50)
	go func() {
		defer close(c)
		err := h.Loop(count, func(hdr PacketHeader, data []byte) {
			b := make([]byte, len(data))
			copy(b, data)
			c <- Packet{B: b, Info: hdr.CaptureInfo()}
		})
		if err != nil {
			c <- Packet{Error: err}
		}
	}()
	return c
}
