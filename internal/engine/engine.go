// Package engine defines the native capture engine contract and its
// platform implementations. The exported gocap package sits on top of this
// contract and never touches a descriptor or a list node directly.
//
// The contract deliberately mirrors the shape of a classic capture engine:
// integer status codes, fixed-size error buffers filled by the callee,
// singly-linked device lists that must be freed by the caller, and a
// blocking per-packet callback loop. Keeping that shape here is what lets
// the layer above enforce ownership: everything crossing upward is copied
// into owned storage first.
package engine

import (
	"golang.org/x/net/bpf"
)

// ErrbufSize is the capacity of the error buffer passed to engine calls,
// matching PCAP_ERRBUF_SIZE.
const ErrbufSize = 256

// Status codes returned by session operations, matching the pcap ones so
// callers used to the native engine see familiar values.
const (
	StatusOK           int32 = 0
	StatusError        int32 = -1
	StatusBreak        int32 = -2
	StatusNotActivated int32 = -3
	StatusActivated    int32 = -4
	StatusNoSuchDevice int32 = -5
	StatusPermDenied   int32 = -8
)

// Device flag bits, matching PCAP_IF_*.
const (
	FlagLoopback uint32 = 0x1
	FlagUp       uint32 = 0x2
	FlagRunning  uint32 = 0x4
)

// Link-layer types reported by Datalink, per pcap-linktype(7).
const (
	LinkTypeNull     int32 = 0x0
	LinkTypeEthernet int32 = 0x1
)

// Addr is one node of a device's address list. Each slot holds raw
// sockaddr bytes in the engine ABI (see sockaddr.go), or nil when the
// native structure had a null pointer in that position.
//
// Nodes are pool-backed: after FreeAllDevs returns, every slot may have
// been zeroed and handed to an unrelated enumeration. Callers must copy
// anything they intend to keep before freeing the list.
type Addr struct {
	Addr      []byte
	Netmask   []byte
	Broadcast []byte
	Dst       []byte
	Next      *Addr
}

// Device is one node of the enumeration list returned by FindAllDevs.
// Same pooling caveat as Addr.
type Device struct {
	Name        string
	Description string
	Flags       uint32
	Addresses   *Addr
	Next        *Device
}

// RawHeader describes one delivered packet. Sec/Usec are the capture
// timestamp split the way the native header splits it.
type RawHeader struct {
	Sec    int64
	Usec   int64
	CapLen uint32
	Len    uint32
}

// Program is a compiled filter. An empty instruction list means
// "accept everything" and installing it is a no-op.
type Program struct {
	Insns []bpf.RawInstruction
}

// Callback receives one packet per invocation. The data slice aliases the
// session's receive buffer and is only valid until the callback returns;
// it may be longer than hdr.CapLen.
type Callback func(hdr RawHeader, data []byte)

// Session is one capture session on one interface. A session created by
// Engine.Create starts deactivated: configuration calls stage values and
// Activate applies them; after activation they fail with StatusActivated.
// Sessions from Engine.OpenLive are already activated.
//
// BreakLoop and LastError are safe to call from any goroutine; everything
// else assumes a single caller at a time. Close is idempotent.
type Session interface {
	SetSnaplen(snaplen int32) int32
	SetPromisc(promisc bool) int32
	SetTimeout(ms int32) int32
	SetNonblock(nonblock bool, errbuf []byte) int32
	Activate() int32
	Datalink() int32
	Compile(expr string, optimize bool, netmask uint32) (*Program, int32)
	SetFilter(prog *Program) int32
	Loop(count int32, fn Callback) int32
	BreakLoop()
	LastError() string
	Close()
}

// Engine is the native capture engine. Create and OpenLive return nil on
// failure and fill errbuf with a NUL-terminated message.
type Engine interface {
	FindAllDevs(errbuf []byte) (*Device, int32)
	FreeAllDevs(head *Device)
	Create(name string, errbuf []byte) Session
	OpenLive(name string, snaplen int32, promisc bool, timeoutMs int32, errbuf []byte) Session
}

// PutErrbuf writes msg into errbuf as a NUL-terminated string, truncating
// to fit. It is how engine implementations report construction failures.
func PutErrbuf(errbuf []byte, msg string) {
	if len(errbuf) == 0 {
		return
	}
	n := copy(errbuf, msg)
	if n == len(errbuf) {
		n--
	}
	errbuf[n] = 0
}

// pollTimeout converts the staged read timeout into a poll argument:
// block indefinitely unless a positive timeout was configured.
func pollTimeout(ms int32) int {
	if ms > 0 {
		return int(ms)
	}
	return -1
}

func htons(in uint16) uint16 {
	return (in<<8)&0xff00 | in>>8
}
