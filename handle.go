package gocap

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/njeffords/gocap/internal/engine"
)

// lifetime owns the responsibility of closing the engine session. The
// Handle holds one reference and every LoopBreaker holds another, so the
// session stays open until the last of them is closed, wherever that
// close happens.
type lifetime struct {
	sess engine.Session
	refs atomic.Int32
}

func newLifetime(sess engine.Session) *lifetime {
	l := &lifetime{sess: sess}
	l.refs.Store(1)
	return l
}

func (l *lifetime) acquire() {
	l.refs.Add(1)
}

func (l *lifetime) release() {
	if l.refs.Add(-1) == 0 {
		l.sess.Close()
	}
}

// Handle is the exclusive owner of one capture session. Configuration and
// Loop must be driven from a single goroutine; BreakLoop (and any
// LoopBreaker) may be used from anywhere.
type Handle struct {
	sess      engine.Session
	life      *lifetime
	closeOnce sync.Once
}

func newHandle(sess engine.Session) *Handle {
	return &Handle{sess: sess, life: newLifetime(sess)}
}

// check translates a non-zero engine status into an *Error carrying the
// status code and the session's last-error message.
func (h *Handle) check(code int32) error {
	if code != engine.StatusOK {
		return errorFromSession(h.sess, code)
	}
	return nil
}

// SetSnaplen sets the maximum number of bytes captured per packet. Only
// effective before Activate.
func (h *Handle) SetSnaplen(snaplen int32) error {
	return h.check(h.sess.SetSnaplen(snaplen))
}

// SetPromisc enables or disables promiscuous mode. Only effective before
// Activate.
func (h *Handle) SetPromisc(promisc bool) error {
	return h.check(h.sess.SetPromisc(promisc))
}

// SetTimeout sets the read timeout. Only effective before Activate.
func (h *Handle) SetTimeout(timeout time.Duration) error {
	return h.check(h.sess.SetTimeout(int32(timeout.Milliseconds())))
}

// SetNonblock switches the session in or out of nonblocking mode.
func (h *Handle) SetNonblock(nonblock bool) error {
	errbuf := newErrbuf()
	if rc := h.sess.SetNonblock(nonblock, errbuf); rc != engine.StatusOK {
		return errorFromBuf(errbuf, rc)
	}
	return nil
}

// Activate opens the capture source with the staged configuration. The
// engine's own ordering restrictions (for example reconfiguring after
// activation) surface as the error the engine reports; they are not
// re-validated here.
func (h *Handle) Activate() error {
	return h.check(h.sess.Activate())
}

// Datalink reports the link-layer type of captured packets as an opaque
// integer code.
func (h *Handle) Datalink() int32 {
	return h.sess.Datalink()
}

// CompiledFilter is an opaque compiled filter program, installable on the
// handle that compiled it. Installing it on a handle with an incompatible
// link-layer type is undefined; that compatibility is the caller's
// responsibility.
type CompiledFilter struct {
	prog *engine.Program
}

// Compile compiles a filter expression without installing it. The
// expression must not contain an embedded NUL byte; that is a programmer
// error and panics. optimize and netmask are forwarded to the engine's
// compiler, which may ignore them.
func (h *Handle) Compile(expr string, optimize bool, netmask uint32) (*CompiledFilter, error) {
	mustNotContainNUL(expr, "filter expression")
	prog, rc := h.sess.Compile(expr, optimize, netmask)
	if rc != engine.StatusOK {
		return nil, errorFromSession(h.sess, rc)
	}
	return &CompiledFilter{prog: prog}, nil
}

// SetFilter installs a previously compiled program on this handle.
func (h *Handle) SetFilter(filter *CompiledFilter) error {
	var prog *engine.Program
	if filter != nil {
		prog = filter.prog
	}
	return h.check(h.sess.SetFilter(prog))
}

// SetBPFFilter compiles and installs a filter expression in one call.
func (h *Handle) SetBPFFilter(expr string) error {
	filter, err := h.Compile(expr, true, 0)
	if err != nil {
		return err
	}
	return h.SetFilter(filter)
}

// Loop blocks the calling goroutine and invokes fn once per delivered
// packet. The header is an owned copy; data is valid only for the
// duration of the invocation and holds exactly CapLen bytes. When the
// engine captured less than the on-wire length a warning is logged and
// the truncated payload is still delivered.
//
// count <= 0 runs until the loop is broken or the engine fails. Loop
// returns nil when count packets were delivered or a breaker stopped the
// loop, and an *Error when the engine reports a read failure.
func (h *Handle) Loop(count int32, fn func(PacketHeader, []byte)) error {
	rc := h.sess.Loop(count, func(raw engine.RawHeader, data []byte) {
		if raw.CapLen < raw.Len {
			log.WithFields(log.Fields{
				"len":    raw.Len,
				"caplen": raw.CapLen,
			}).Warn("didn't capture entire packet")
		}
		caplen := int(raw.CapLen)
		if caplen > len(data) {
			caplen = len(data)
		}
		fn(PacketHeader{
			TS:     TimeStamp{Sec: raw.Sec, Usec: raw.Usec},
			CapLen: raw.CapLen,
			Len:    raw.Len,
		}, data[:caplen])
	})
	switch rc {
	case engine.StatusOK, engine.StatusBreak:
		return nil
	default:
		return errorFromSession(h.sess, rc)
	}
}

// BreakLoop requests that a Loop in progress on this handle return. Safe
// from any goroutine; best effort, the loop returns the next time the
// engine checks its cancellation flag, and a bounded number of
// already-queued packets may still be delivered first.
func (h *Handle) BreakLoop() {
	h.sess.BreakLoop()
}

// LoopBreaker returns a new cancellation token for this handle. The token
// shares the session's close-on-last-reference lifetime: the session
// outlives the Handle for as long as any breaker is still open.
func (h *Handle) LoopBreaker() *LoopBreaker {
	h.life.acquire()
	return &LoopBreaker{sess: h.sess, life: h.life}
}

// Close releases the handle's reference on the session. The session
// itself is closed when the last reference (handle or breaker) is gone.
// Idempotent.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.life.release()
	})
}

// LoopBreaker stops a running capture loop from any goroutine. It never
// closes the session itself; it only requests cancellation and keeps the
// session alive until it is closed.
type LoopBreaker struct {
	sess      engine.Session
	life      *lifetime
	closeOnce sync.Once
}

// BreakLoop requests cancellation of the owning handle's capture loop.
// Safe from any goroutine, at any time, including concurrently with a
// blocked Loop.
func (b *LoopBreaker) BreakLoop() {
	b.sess.BreakLoop()
}

// Clone returns an independent breaker sharing the same session lifetime.
func (b *LoopBreaker) Clone() *LoopBreaker {
	b.life.acquire()
	return &LoopBreaker{sess: b.sess, life: b.life}
}

// Close releases this breaker's reference on the session. Idempotent.
func (b *LoopBreaker) Close() {
	b.closeOnce.Do(func() {
		b.life.release()
	})
}
