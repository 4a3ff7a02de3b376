package engine

import (
	"encoding/binary"
)

// Raw sockaddr ABI used for the address slots of Addr nodes. The layout
// follows the classic sockaddr_in/sockaddr_in6 structures: a native-endian
// family tag, a network-order port, then the family payload. Family values
// are fixed by this contract rather than inherited from the host so that
// records decode identically everywhere.
const (
	AFInet   uint16 = 2
	AFInet6  uint16 = 10
	AFPacket uint16 = 17

	SizeofSockaddrInet4 = 16
	SizeofSockaddrInet6 = 28
)

// SockaddrFamily reads the family tag, or 0 if the buffer is too short to
// carry one.
func SockaddrFamily(raw []byte) uint16 {
	if len(raw) < 2 {
		return 0
	}
	return binary.NativeEndian.Uint16(raw)
}

// PutSockaddrInet4 encodes an IPv4 sockaddr.
func PutSockaddrInet4(addr [4]byte, port uint16) []byte {
	raw := make([]byte, SizeofSockaddrInet4)
	binary.NativeEndian.PutUint16(raw[0:2], AFInet)
	binary.BigEndian.PutUint16(raw[2:4], port)
	copy(raw[4:8], addr[:])
	return raw
}

// PutSockaddrInet6 encodes an IPv6 sockaddr with flow info and scope id.
func PutSockaddrInet6(addr [16]byte, port uint16, flowInfo, scopeID uint32) []byte {
	raw := make([]byte, SizeofSockaddrInet6)
	binary.NativeEndian.PutUint16(raw[0:2], AFInet6)
	binary.BigEndian.PutUint16(raw[2:4], port)
	binary.NativeEndian.PutUint32(raw[4:8], flowInfo)
	copy(raw[8:24], addr[:])
	binary.NativeEndian.PutUint32(raw[24:28], scopeID)
	return raw
}

// PutSockaddrLink encodes a link-layer hardware address. The layer above
// does not recognize this family and reports the slot as absent, which is
// exactly what happens to AF_PACKET entries in a native device list.
func PutSockaddrLink(hw []byte) []byte {
	raw := make([]byte, 2+len(hw))
	binary.NativeEndian.PutUint16(raw[0:2], AFPacket)
	copy(raw[2:], hw)
	return raw
}

// SockaddrInet4 decodes an IPv4 sockaddr. Short buffers decode as the zero
// address rather than failing; the family tag is the caller's business.
func SockaddrInet4(raw []byte) (addr [4]byte, port uint16) {
	if len(raw) >= 4 {
		port = binary.BigEndian.Uint16(raw[2:4])
	}
	if len(raw) >= 8 {
		copy(addr[:], raw[4:8])
	}
	return addr, port
}

// SockaddrInet6 decodes an IPv6 sockaddr, tolerating short buffers the
// same way.
func SockaddrInet6(raw []byte) (addr [16]byte, port uint16, flowInfo, scopeID uint32) {
	if len(raw) >= 4 {
		port = binary.BigEndian.Uint16(raw[2:4])
	}
	if len(raw) >= 8 {
		flowInfo = binary.NativeEndian.Uint32(raw[4:8])
	}
	if len(raw) >= 24 {
		copy(addr[:], raw[8:24])
	}
	if len(raw) >= 28 {
		scopeID = binary.NativeEndian.Uint32(raw[24:28])
	}
	return addr, port, flowInfo, scopeID
}
