package gocap

import (
	"sync"
	"testing"

	"github.com/njeffords/gocap/internal/engine"
)

// fakeEngine scripts the native engine so the ownership properties of the
// layer above can be checked without privileges or live traffic.
type fakeEngine struct {
	mu        sync.Mutex
	devs      *engine.Device
	findRC    int32
	findMsg   string
	freeCalls int

	session     *fakeSession
	createFails bool
	failMsg     string
}

func (f *fakeEngine) FindAllDevs(errbuf []byte) (*engine.Device, int32) {
	if f.findRC != engine.StatusOK {
		engine.PutErrbuf(errbuf, f.findMsg)
		return nil, f.findRC
	}
	return f.devs, engine.StatusOK
}

func (f *fakeEngine) FreeAllDevs(head *engine.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freeCalls++
	// zero the chain the way the pooled production lists are zeroed, so a
	// retained reference into freed nodes would be caught by the tests
	for dev := head; dev != nil; {
		next := dev.Next
		*dev = engine.Device{}
		dev = next
	}
}

func (f *fakeEngine) frees() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freeCalls
}

func (f *fakeEngine) Create(name string, errbuf []byte) engine.Session {
	if f.createFails {
		engine.PutErrbuf(errbuf, f.failMsg)
		return nil
	}
	return f.session
}

func (f *fakeEngine) OpenLive(name string, snaplen int32, promisc bool, timeoutMs int32, errbuf []byte) engine.Session {
	if f.createFails {
		engine.PutErrbuf(errbuf, f.failMsg)
		return nil
	}
	f.session.activated = true
	return f.session
}

func withFakeEngine(t *testing.T, f *fakeEngine) {
	t.Helper()
	old := defaultEngine
	defaultEngine = f
	t.Cleanup(func() { defaultEngine = old })
}

type fakePacket struct {
	hdr  engine.RawHeader
	data []byte
}

// fakeSession delivers scripted packets; with blockOnEmpty it then parks
// in Loop until BreakLoop fires, imitating a quiet interface.
type fakeSession struct {
	mu        sync.Mutex
	activated bool
	closed    int
	lastErr   string

	rc map[string]int32 // per-operation status overrides

	packets      []fakePacket
	blockOnEmpty bool
	loopRC       int32
	breakCh      chan struct{}
	breakOnce    sync.Once

	compiled  []string
	installed int
}

func newFakeSession() *fakeSession {
	return &fakeSession{breakCh: make(chan struct{})}
}

func (s *fakeSession) status(op string) int32 {
	if rc, ok := s.rc[op]; ok {
		return rc
	}
	return engine.StatusOK
}

func (s *fakeSession) SetSnaplen(int32) int32 { return s.status("snaplen") }

func (s *fakeSession) SetPromisc(bool) int32 { return s.status("promisc") }

func (s *fakeSession) SetTimeout(int32) int32 { return s.status("timeout") }

func (s *fakeSession) SetNonblock(nonblock bool, errbuf []byte) int32 {
	if rc := s.status("nonblock"); rc != engine.StatusOK {
		engine.PutErrbuf(errbuf, s.lastErr)
		return rc
	}
	return engine.StatusOK
}

func (s *fakeSession) Activate() int32 {
	if rc := s.status("activate"); rc != engine.StatusOK {
		return rc
	}
	s.activated = true
	return engine.StatusOK
}

func (s *fakeSession) Datalink() int32 { return engine.LinkTypeEthernet }

func (s *fakeSession) Compile(expr string, optimize bool, netmask uint32) (*engine.Program, int32) {
	if rc := s.status("compile"); rc != engine.StatusOK {
		return nil, rc
	}
	s.compiled = append(s.compiled, expr)
	return &engine.Program{}, engine.StatusOK
}

func (s *fakeSession) SetFilter(prog *engine.Program) int32 {
	if rc := s.status("setfilter"); rc != engine.StatusOK {
		return rc
	}
	s.installed++
	return engine.StatusOK
}

func (s *fakeSession) Loop(count int32, fn engine.Callback) int32 {
	var delivered int32
	for _, p := range s.packets {
		if count > 0 && delivered >= count {
			return engine.StatusOK
		}
		select {
		case <-s.breakCh:
			return engine.StatusBreak
		default:
		}
		fn(p.hdr, p.data)
		delivered++
	}
	if count > 0 && delivered >= count {
		return engine.StatusOK
	}
	if s.blockOnEmpty {
		<-s.breakCh
		return engine.StatusBreak
	}
	return s.loopRC
}

func (s *fakeSession) BreakLoop() {
	s.breakOnce.Do(func() { close(s.breakCh) })
}

func (s *fakeSession) LastError() string { return s.lastErr }

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deviceChain builds a linked device list with the given names.
func deviceChain(names ...string) *engine.Device {
	var head, tail *engine.Device
	for _, name := range names {
		dev := &engine.Device{Name: name, Flags: engine.FlagUp}
		if tail == nil {
			head = dev
		} else {
			tail.Next = dev
		}
		tail = dev
	}
	return head
}
