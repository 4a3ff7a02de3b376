//go:build !linux && !darwin && !freebsd

package engine

import "runtime"

const defaultSnaplen = 65535

type unsupportedEngine struct{}

// Default returns the capture engine for this platform. Capture is not
// implemented here; enumeration still works so callers can inspect the
// host, but session construction always fails.
func Default() Engine {
	return unsupportedEngine{}
}

func (unsupportedEngine) FindAllDevs(errbuf []byte) (*Device, int32) {
	return findAllDevs(errbuf)
}

func (unsupportedEngine) FreeAllDevs(head *Device) {
	freeAllDevs(head)
}

func (unsupportedEngine) Create(name string, errbuf []byte) Session {
	PutErrbuf(errbuf, "packet capture is not supported on "+runtime.GOOS)
	return nil
}

func (unsupportedEngine) OpenLive(name string, snaplen int32, promisc bool, timeoutMs int32, errbuf []byte) Session {
	PutErrbuf(errbuf, "packet capture is not supported on "+runtime.GOOS)
	return nil
}
