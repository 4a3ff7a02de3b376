//go:build darwin || freebsd

package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

const (
	enable         = 1
	defaultSnaplen = 65535
)

// bsdEngine captures through the /dev/bpf* devices.
type bsdEngine struct{}

// Default returns the capture engine for this platform.
func Default() Engine {
	return bsdEngine{}
}

func (bsdEngine) FindAllDevs(errbuf []byte) (*Device, int32) {
	return findAllDevs(errbuf)
}

func (bsdEngine) FreeAllDevs(head *Device) {
	freeAllDevs(head)
}

func (bsdEngine) Create(name string, errbuf []byte) Session {
	return &bsdSession{
		name:    name,
		snaplen: defaultSnaplen,
		fd:      -1,
		breakRx: -1,
		breakTx: -1,
	}
}

func (e bsdEngine) OpenLive(name string, snaplen int32, promisc bool, timeoutMs int32, errbuf []byte) Session {
	s := e.Create(name, errbuf).(*bsdSession)
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

type bsdSession struct {
	name      string
	snaplen   int32
	promisc   bool
	timeoutMs int32
	nonblock  bool

	activated bool
	fd        int
	buf       []byte
	linkType  int32
	program   *Program

	breakRx   int
	breakTx   int
	breakFlag atomic.Bool

	closeOnce sync.Once

	errMu   sync.Mutex
	lastErr string
}

func (s *bsdSession) seterr(format string, args ...any) {
	s.errMu.Lock()
	s.lastErr = fmt.Sprintf(format, args...)
	s.errMu.Unlock()
}

func (s *bsdSession) LastError() string {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.lastErr
}

func (s *bsdSession) SetSnaplen(snaplen int32) int32 {
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

func (s *bsdSession) SetPromisc(promisc bool) int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	s.promisc = promisc
	return StatusOK
}

func (s *bsdSession) SetTimeout(ms int32) int32 {
	if s.activated {
		s.seterr("capture source is already activated")
		return StatusActivated
	}
	s.timeoutMs = ms
	return StatusOK
}

func (s *bsdSession) SetNonblock(nonblock bool, errbuf []byte) int32 {
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

func (s *bsdSession) Activate() int32 {
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
	logger.Debug("activating BPF session")

	fd := -1
	var err error
	for i := 0; i < 255; i++ {
		dev := fmt.Sprintf("/dev/bpf%d", i)
		fd, err = unix.Open(dev, unix.O_RDWR, 0000)
		if fd > -1 {
			break
		}
		if err == unix.EBUSY {
			continue
		}
		s.seterr("error opening device %s: %v", dev, err)
		if err == unix.EPERM || err == unix.EACCES {
			return StatusPermDenied
		}
		return StatusError
	}
	if fd <= -1 {
		s.seterr("failed to get valid bpf device")
		return StatusError
	}
	s.fd = fd

	if err = setBpfInterface(fd, s.name); err != nil {
		s.closeActivationFds()
		s.seterr("failed to set the BPF interface %s: %v", s.name, err)
		return StatusNoSuchDevice
	}
	if err = setBpfHeadercmpl(fd, enable); err != nil {
		s.closeActivationFds()
		s.seterr("failed to set the BPF header complete option: %v", err)
		return StatusError
	}
	if err = setBpfMonitor(fd, enable); err != nil {
		s.closeActivationFds()
		s.seterr("failed to set the BPF monitor option: %v", err)
		return StatusError
	}
	if err = setBpfImmediate(fd, enable); err != nil {
		s.closeActivationFds()
		s.seterr("failed to set the BPF immediate return option: %v", err)
		return StatusError
	}
	if s.promisc {
		if err = unix.IoctlSetPointerInt(fd, unix.BIOCPROMISC, enable); err != nil {
			s.closeActivationFds()
			s.seterr("failed to set promiscuous for %s: %v", s.name, err)
			return StatusError
		}
	}
	size, err := bpfBuflen(fd)
	if err != nil {
		s.closeActivationFds()
		s.seterr("failed to read buffer length: %v", err)
		return StatusError
	}
	s.buf = make([]byte, size)

	linkType, err := unix.IoctlGetInt(fd, unix.BIOCGDLT)
	if err != nil {
		s.closeActivationFds()
		s.seterr("failed to get link type: %v", err)
		return StatusError
	}
	s.linkType = int32(linkType)

	var pipefd [2]int
	if err := unix.Pipe(pipefd[:]); err != nil {
		s.closeActivationFds()
		s.seterr("failed to create break pipe: %v", err)
		return StatusError
	}
	s.breakRx, s.breakTx = pipefd[0], pipefd[1]
	_ = unix.SetNonblock(s.breakRx, true)
	_ = unix.SetNonblock(s.breakTx, true)

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

func (s *bsdSession) closeActivationFds() {
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

func (s *bsdSession) Datalink() int32 {
	if !s.activated {
		return StatusNotActivated
	}
	return s.linkType
}

func (s *bsdSession) Compile(expr string, optimize bool, netmask uint32) (*Program, int32) {
	if !s.activated {
		s.seterr("capture source is not activated")
		return nil, StatusNotActivated
	}
	insns, err := compileFilter(s.linkType, s.snaplen, expr, optimize, netmask)
	if err != nil {
		s.seterr("%v", err)
		return nil, StatusError
	}
	return &Program{Insns: insns}, StatusOK
}

type bpfProgram struct {
	Len    uint32
	Filter *bpf.RawInstruction
}

func (s *bsdSession) SetFilter(prog *Program) int32 {
	if prog == nil || len(prog.Insns) == 0 {
		return StatusOK
	}
	if !s.activated {
		s.program = prog
		return StatusOK
	}
	return s.attachFilter(prog)
}

func (s *bsdSession) attachFilter(prog *Program) int32 {
	p := bpfProgram{
		Len:    uint32(len(prog.Insns)),
		Filter: &prog.Insns[0],
	}
	if err := ioctlPtr(s.fd, unix.BIOCSETF, unsafe.Pointer(&p)); err != nil {
		s.seterr("unable to set filter: %v", err)
		return StatusError
	}
	return StatusOK
}

func (s *bsdSession) Loop(count int32, fn Callback) int32 {
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
			s.seterr("error polling device: %v", err)
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

		read, err := unix.Read(s.fd, s.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			s.seterr("error reading: %v", err)
			return StatusError
		}

		budget := int32(0)
		if count > 0 {
			budget = count - delivered
		}
		delivered += deliverBpfRecords(s.buf[:read], budget, fn)
	}
	return StatusOK
}

// deliverBpfRecords walks the BPF records packed into one read. Each
// record is a BpfHdr followed by Caplen payload bytes, and the next
// record starts at the platform word alignment past the payload. A
// positive budget caps the number delivered; zero means no cap.
func deliverBpfRecords(buf []byte, budget int32, fn Callback) int32 {
	var delivered int32
	off := 0
	for off+int(unix.SizeofBpfHdr) <= len(buf) {
		if budget > 0 && delivered >= budget {
			break
		}
		hdr := (*unix.BpfHdr)(unsafe.Pointer(&buf[off]))
		pktStart := off + int(hdr.Hdrlen)
		pktEnd := pktStart + int(hdr.Caplen)
		if pktEnd > len(buf) {
			break
		}
		fn(RawHeader{
			Sec:    int64(hdr.Tstamp.Sec),
			Usec:   int64(hdr.Tstamp.Usec),
			CapLen: hdr.Caplen,
			Len:    hdr.Datalen,
		}, buf[pktStart:pktEnd])
		delivered++
		off = bpfWordAlign(pktEnd)
	}
	return delivered
}

func bpfWordAlign(x int) int {
	return (x + (bpfAlignment - 1)) &^ (bpfAlignment - 1)
}

func (s *bsdSession) drainBreakPipe() {
	var b [8]byte
	for {
		if _, err := unix.Read(s.breakRx, b[:]); err != nil {
			return
		}
	}
}

func (s *bsdSession) BreakLoop() {
	s.breakFlag.Store(true)
	if s.breakTx >= 0 {
		_, _ = unix.Write(s.breakTx, []byte{1})
	}
}

// Close releases the device and the break pipe. Idempotent.
func (s *bsdSession) Close() {
	s.closeOnce.Do(func() {
		s.closeActivationFds()
		s.activated = false
	})
}

// The BIOC* setters below exist because the deprecated syscall wrappers
// were never replaced in x/sys for pointer-carrying ioctls.

type ivalue struct {
	name  [unix.IFNAMSIZ]byte
	value int16 //nolint: unused
}

func setBpfInterface(fd int, name string) error {
	var iv ivalue
	copy(iv.name[:], []byte(name))
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&iv))
}

func setBpfHeadercmpl(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSHDRCMPLT, m)
}

func setBpfImmediate(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCIMMEDIATE, m)
}

func setBpfMonitor(fd, m int) error {
	return unix.IoctlSetPointerInt(fd, unix.BIOCSSEESENT, m)
}

func bpfBuflen(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.BIOCGBLEN)
}

func ioctlPtr(fd, arg int, valPtr unsafe.Pointer) error {
	//nolint:staticcheck // unix.SYS_IOCTL is deprecated, but golang does not provide a better alternative
	// as of this writing for passing pointers
	_, _, errno := unix.RawSyscall(unix.SYS_IOCTL, uintptr(fd), uintptr(arg), uintptr(valPtr))
	if errno != 0 {
		return fmt.Errorf("error: %d", errno)
	}
	return nil
}
