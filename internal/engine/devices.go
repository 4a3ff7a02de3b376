package engine

import (
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Device discovery. The list is materialized from the host network stack
// into linked Device/Addr nodes drawn from pools, so the find/free pairing
// of the native engine is a real contract here: FreeAllDevs zeroes every
// node and returns it for reuse by the next enumeration.

var (
	devicePool = sync.Pool{New: func() any { return new(Device) }}
	addrPool   = sync.Pool{New: func() any { return new(Addr) }}
)

// interfacesFn is swapped out by tests that need a deterministic host.
var interfacesFn = net.Interfaces

func findAllDevs(errbuf []byte) (*Device, int32) {
	ifaces, err := interfacesFn()
	if err != nil {
		PutErrbuf(errbuf, fmt.Sprintf("cannot enumerate interfaces: %v", err))
		return nil, StatusError
	}

	var head, tail *Device
	for i := range ifaces {
		dev := devicePool.Get().(*Device)
		*dev = Device{
			Name:      ifaces[i].Name,
			Flags:     deviceFlags(ifaces[i].Flags),
			Addresses: deviceAddrs(&ifaces[i]),
		}
		if tail == nil {
			head = dev
		} else {
			tail.Next = dev
		}
		tail = dev
	}
	log.WithField("devices", len(ifaces)).Debug("enumerated capture devices")
	return head, StatusOK
}

func freeAllDevs(head *Device) {
	for dev := head; dev != nil; {
		for addr := dev.Addresses; addr != nil; {
			next := addr.Next
			*addr = Addr{}
			addrPool.Put(addr)
			addr = next
		}
		next := dev.Next
		*dev = Device{}
		devicePool.Put(dev)
		dev = next
	}
}

func deviceFlags(f net.Flags) uint32 {
	var flags uint32
	if f&net.FlagLoopback != 0 {
		flags |= FlagLoopback
	}
	if f&net.FlagUp != 0 {
		flags |= FlagUp
	}
	if f&net.FlagRunning != 0 {
		flags |= FlagRunning
	}
	return flags
}

func deviceAddrs(iface *net.Interface) *Addr {
	var head, tail *Addr
	appendNode := func(node *Addr) {
		if tail == nil {
			head = node
		} else {
			tail.Next = node
		}
		tail = node
	}

	if len(iface.HardwareAddr) > 0 {
		node := addrPool.Get().(*Addr)
		*node = Addr{Addr: PutSockaddrLink(iface.HardwareAddr)}
		appendNode(node)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		// A device with no readable addresses is still listable.
		log.WithField("iface", iface.Name).WithError(err).Debug("cannot read interface addresses")
		return head
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if ok {
			node := addrPool.Get().(*Addr)
			*node = ipNetAddr(iface, ipnet)
			appendNode(node)
		}
	}
	return head
}

func ipNetAddr(iface *net.Interface, ipnet *net.IPNet) Addr {
	if ip4 := ipnet.IP.To4(); ip4 != nil {
		node := Addr{Addr: PutSockaddrInet4([4]byte(ip4), 0)}
		if len(ipnet.Mask) == net.IPv4len {
			node.Netmask = PutSockaddrInet4([4]byte(ipnet.Mask), 0)
		} else if len(ipnet.Mask) == net.IPv6len {
			node.Netmask = PutSockaddrInet4([4]byte(ipnet.Mask[12:]), 0)
		}
		if iface.Flags&net.FlagBroadcast != 0 && node.Netmask != nil {
			var bcast [4]byte
			for i := 0; i < 4; i++ {
				bcast[i] = ip4[i] | ^ipnet.Mask[len(ipnet.Mask)-4+i]
			}
			node.Broadcast = PutSockaddrInet4(bcast, 0)
		}
		return node
	}

	ip16 := ipnet.IP.To16()
	if ip16 == nil {
		return Addr{}
	}
	node := Addr{Addr: PutSockaddrInet6([16]byte(ip16), 0, 0, 0)}
	if len(ipnet.Mask) == net.IPv6len {
		node.Netmask = PutSockaddrInet6([16]byte(ipnet.Mask), 0, 0, 0)
	}
	return node
}
