//go:build linux

package engine

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const defaultSnaplen = 65535

// linuxEngine captures through AF_PACKET raw sockets.
type linuxEngine struct{}

// Default returns the capture engine for this platform.
func Default() Engine {
	return linuxEngine{}
}

func (linuxEngine) FindAllDevs(errbuf []byte) (*Device, int32) {
	return findAllDevs(errbuf)
}

func (linuxEngine) FreeAllDevs(head *Device) {
	freeAllDevs(head)
}

func (linuxEngine) Create(name string, errbuf []byte) Session {
	return &linuxSession{
		name:    name,
		snaplen: defaultSnaplen,
		fd:      -1,
		breakRx: -1,
		breakTx: -1,
	}
}

func (e linuxEngine) OpenLive(name string, snaplen int32, promisc bool, timeoutMs int32, errbuf []byte) Session {
	s := e.Create(name, errbuf).(*linuxSession)
	s.snaplen = snaplen
	s.promisc = promisc
	s.timeoutMs = timeoutMs
	if rc := s.Activate(); rc != StatusOK {
		PutErrbuf(errbuf, s.LastError())
		s.Close()
		return nil
	}
	return s
}

type linuxSession struct {
	name      string
	snaplen   int32
	promisc   bool
	timeoutMs int32
	nonblock  bool

	activated bool
	fd        int
	index     int
	buf       []byte
	program   *Program

	// breakRx/breakTx form the self-pipe that wakes the poll in Loop when
	// BreakLoop is called from another goroutine.
	breakRx   int
	breakTx   int
	breakFlag atomic.Bool

	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr string
}

func (s *linuxSession) seterr(format string, args ...any) {
	s.errMu.Lock()
	s.lastErr = fmt.Sprintf(format, args...)
	s.errMu.Unlock()
}

func (s *linuxSession) LastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *linuxSession) SetSnaplen(snaplen int32) int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	if snaplen <= 0 {
		snaplen = defaultSnaplen
	}
	s.snaplen = snaplen
	return StatusOK
}

func (s *linuxSession) SetPromisc(promisc bool) int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	s.promisc = promisc
	return StatusOK
}

func (s *linuxSession) SetTimeout(ms int32) int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	s.timeoutMs = ms
	return StatusOK
}

func (s *linuxSession) SetNonblock(nonblock bool, errbuf []byte) int32 {
	if !s.activated {
		PutErrbuf(errbuf, "capture source is not activated")
		return StatusNotActivated
	}
	if err := unix.SetNonblock(s.fd, nonblock); err != nil {
		PutErrbuf(errbuf, fmt.Sprintf("cannot set nonblocking mode: %v", err))
		return StatusError
	}
	s.nonblock = nonblock
	return StatusOK
}

func (s *linuxSession) Activate() int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	logger := log.WithFields(log.Fields{
		"iface":   s.name,
		"snaplen": s.snaplen,
		"promisc": s.promisc,
		"timeout": s.timeoutMs,
	})
	logger.Debug("activating AF_PACKET session")

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		s.seterr("failed opening raw socket: %v", err)
		if err == unix.EPERM || err == unix.EACCES {
			return StatusPermDenied
		}
		return StatusError
	}
	s.fd = fd

	if s.name != "" {
		in, err := net.InterfaceByName(s.name)
		if err != nil {
			s.closeActivationFds()
			s.seterr("unknown interface %s: %v", s.name, err)
			return StatusNoSuchDevice
		}
		s.index = in.Index

		sa := unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_ALL),
			Ifindex:  in.Index,
		}
		if err = unix.Bind(fd, &sa); err != nil {
			s.closeActivationFds()
			s.seterr("failed to bind to %s: %v", s.name, err)
			return StatusError
		}
		if s.promisc {
			mreq := unix.PacketMreq{
				Ifindex: int32(in.Index),
				Type:    unix.PACKET_MR_PROMISC,
			}
			if err = unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
				s.closeActivationFds()
				s.seterr("failed to set promiscuous for %s: %v", s.name, err)
				return StatusError
			}
		}
	}

	var pipefd [2]int
	if err := unix.Pipe(pipefd[:]); err != nil {
		s.closeActivationFds()
		s.seterr("failed to create break pipe: %v", err)
		return StatusError
	}
	s.breakRx, s.breakTx = pipefd[0], pipefd[1]
	_ = unix.SetNonblock(s.breakRx, true)
	_ = unix.SetNonblock(s.breakTx, true)

	if s.snaplen <= 0 {
		s.snaplen = defaultSnaplen
	}
	s.buf = make([]byte, s.snaplen)

	if s.program != nil {
		if rc := s.attachFilter(s.program); rc != StatusOK {
			s.closeActivationFds()
			return rc
		}
	}

	s.activated = true
	logger.Debug("session activated")
	return StatusOK
}

func (s *linuxSession) closeActivationFds() {
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
	if s.breakRx >= 0 {
		_ = unix.Close(s.breakRx)
		_ = unix.Close(s.breakTx)
		s.breakRx, s.breakTx = -1, -1
	}
}

func (s *linuxSession) Datalink() int32 {
	if !s.activated {
		return StatusNotActivated
	}
	return LinkTypeEthernet
}

func (s *linuxSession) Compile(expr string, optimize bool, netmask uint32) (*Program, int32) {
	if !s.activated {
		s.seterr("capture source is not activated")
		return nil, StatusNotActivated
	}
	insns, err := compileFilter(s.Datalink(), s.snaplen, expr, optimize, netmask)
	if err != nil {
		s.seterr("%v", err)
		return nil, StatusError
	}
	return &Program{Insns: insns}, StatusOK
}

func (s *linuxSession) SetFilter(prog *Program) int32 {
	if prog == nil || len(prog.Insns) == 0 {
		return StatusOK
	}
	if !s.activated {
		// Staged and attached during Activate.
		s.program = prog
		return StatusOK
	}
	return s.attachFilter(prog)
}

func (s *linuxSession) attachFilter(prog *Program) int32 {
	flt := make([]unix.SockFilter, len(prog.Insns))
	for i, ins := range prog.Insns {
		flt[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}
	fprog := unix.SockFprog{
		Len:    uint16(len(flt)),
		Filter: &flt[0],
	}
	if err := unix.SetsockoptSockFprog(s.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		s.seterr("failed to attach filter: %v", err)
		return StatusError
	}
	return StatusOK
}

func (s *linuxSession) Loop(count int32, fn Callback) int32 {
	if !s.activated {
		s.seterr("capture source is not activated")
		return StatusNotActivated
	}
	defer s.breakFlag.Store(false)

	pfd := []unix.PollFd{
		{Fd: int32(s.fd), Events: unix.POLLIN},
		{Fd: int32(s.breakRx), Events: unix.POLLIN},
	}
	timeout := pollTimeout(s.timeoutMs)

	var delivered int32
	for count <= 0 || delivered < count {
		if s.breakFlag.Load() {
			s.drainBreakPipe()
			return StatusBreak
		}

		n, err := unix.Poll(pfd, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.seterr("error polling socket: %v", err)
			return StatusError
		}
		if n == 0 {
			continue
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			s.drainBreakPipe()
			return StatusBreak
		}
		if pfd[0].Revents&unix.POLLIN == 0 {
			continue
		}

		// MSG_TRUNC reports the true on-wire length even when it exceeds
		// the snaplen-sized buffer, which is what distinguishes a
		// truncated capture from a short packet.
		read, _, err := unix.Recvfrom(s.fd, s.buf, unix.MSG_TRUNC|unix.MSG_DONTWAIT)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			s.seterr("error reading: %v", err)
			return StatusError
		}
		if read <= 0 {
			continue
		}

		caplen := read
		if caplen > len(s.buf) {
			caplen = len(s.buf)
		}
		// TODO: use SIOCGSTAMP to report the kernel receive timestamp
		// instead of the user-space read time.
		now := time.Now()
		fn(RawHeader{
			Sec:    now.Unix(),
			Usec:   int64(now.Nanosecond() / 1000),
			CapLen: uint32(caplen),
			Len:    uint32(read),
		}, s.buf[:caplen])
		delivered++
	}
	return StatusOK
}

func (s *linuxSession) drainBreakPipe() {
	var b [8]byte
	for {
		if _, err := unix.Read(s.breakRx, b[:]); err != nil {
			return
		}
	}
}

func (s *linuxSession) BreakLoop() {
	s.breakFlag.Store(true)
	if s.breakTx >= 0 {
		_, _ = unix.Write(s.breakTx, []byte{1})
	}
}

// Close releases the socket and the break pipe. Idempotent.
func (s *linuxSession) Close() {
	s.closeOnce.Do(func() {
		s.closeActivationFds()
		s.activated = false
	})
}
