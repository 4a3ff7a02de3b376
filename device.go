package gocap

import (
	"sync"

	"github.com/njeffords/gocap/internal/engine"
)

// IfFlags is the interface flag set reported by the engine.
type IfFlags uint32

const (
	IfLoopback IfFlags = IfFlags(engine.FlagLoopback)
	IfUp       IfFlags = IfFlags(engine.FlagUp)
	IfRunning  IfFlags = IfFlags(engine.FlagRunning)
)

// Address is the set of socket addresses attached to one interface
// address entry. Every field is optional: a nil field means the native
// entry had no value in that slot, or one of a family this module does
// not recognize.
type Address struct {
	Address     *SockAddr
	Netmask     *SockAddr
	Broadcast   *SockAddr
	Destination *SockAddr
}

// NetworkInterface is an owned copy of one native device-list node. It
// remains valid after the native list has been freed.
type NetworkInterface struct {
	Name        string
	Description string
	Addresses   []Address
	Flags       IfFlags
}

func (n *NetworkInterface) IsLoopback() bool { return n.Flags&IfLoopback != 0 }

func (n *NetworkInterface) IsUp() bool { return n.Flags&IfUp != 0 }

func (n *NetworkInterface) IsRunning() bool { return n.Flags&IfRunning != 0 }

// interfaceFromDevice copies every field of a native node, including the
// full address chain, into owned storage. Nothing yielded to the caller
// references native memory afterwards.
func interfaceFromDevice(dev *engine.Device) NetworkInterface {
	var addresses []Address
	for addr := dev.Addresses; addr != nil; addr = addr.Next {
		addresses = append(addresses, Address{
			Address:     sockAddrFromRaw(addr.Addr),
			Netmask:     sockAddrFromRaw(addr.Netmask),
			Broadcast:   sockAddrFromRaw(addr.Broadcast),
			Destination: sockAddrFromRaw(addr.Dst),
		})
	}
	return NetworkInterface{
		Name:        dev.Name,
		Description: dev.Description,
		Addresses:   addresses,
		Flags:       IfFlags(dev.Flags),
	}
}

// NetworkInterfaceIterator walks the native device list produced by
// FindAllDevs. It is forward-only and cannot be restarted: the native list
// is owned by the iterator and freed exactly once, either when iteration
// exhausts it or when Close is called after partial iteration. Every
// yielded NetworkInterface is an eager copy, so values from Next stay
// valid after the list is gone.
type NetworkInterfaceIterator struct {
	eng  engine.Engine
	base *engine.Device
	next *engine.Device
	free sync.Once
}

// Next returns the next owned interface record, or ok == false when the
// list is exhausted. Exhausting the list releases the native storage.
func (it *NetworkInterfaceIterator) Next() (iface NetworkInterface, ok bool) {
	if it.next == nil {
		it.Close()
		return NetworkInterface{}, false
	}
	dev := it.next
	it.next = dev.Next
	return interfaceFromDevice(dev), true
}

// Close frees the native list. Safe to call any number of times, and
// after exhaustion; the list is only ever freed once.
func (it *NetworkInterfaceIterator) Close() {
	it.free.Do(func() {
		it.next = nil
		it.eng.FreeAllDevs(it.base)
		it.base = nil
	})
}
