package gocap

import (
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njeffords/gocap/internal/engine"
)

func newLoopHandle(t *testing.T, sess *fakeSession) *Handle {
	t.Helper()
	withFakeEngine(t, &fakeEngine{session: sess})
	h, err := OpenLive("eth0", 1600, true, 0)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestLoopDeliversOwnedHeaders(t *testing.T) {
	sess := newFakeSession()
	sess.packets = []fakePacket{
		{hdr: engine.RawHeader{Sec: 100, Usec: 250, CapLen: 3, Len: 3}, data: []byte{1, 2, 3}},
		{hdr: engine.RawHeader{Sec: 101, Usec: 500, CapLen: 2, Len: 2}, data: []byte{9, 8}},
	}
	h := newLoopHandle(t, sess)

	var headers []PacketHeader
	var payloads [][]byte
	err := h.Loop(2, func(hdr PacketHeader, data []byte) {
		headers = append(headers, hdr)
		payloads = append(payloads, append([]byte{}, data...))
	})
	require.NoError(t, err)

	require.Len(t, headers, 2)
	assert.Equal(t, PacketHeader{TS: TimeStamp{Sec: 100, Usec: 250}, CapLen: 3, Len: 3}, headers[0])
	assert.Equal(t, PacketHeader{TS: TimeStamp{Sec: 101, Usec: 500}, CapLen: 2, Len: 2}, headers[1])
	assert.Equal(t, [][]byte{{1, 2, 3}, {9, 8}}, payloads)
}

func TestLoopTruncatedPacketDeliversCapLenBytes(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	sess := newFakeSession()
	sess.packets = []fakePacket{
		{hdr: engine.RawHeader{CapLen: 4, Len: 10}, data: []byte{1, 2, 3, 4, 5, 6}},
	}
	h := newLoopHandle(t, sess)

	var got []byte
	err := h.Loop(1, func(hdr PacketHeader, data []byte) {
		got = append([]byte{}, data...)
		assert.Equal(t, uint32(4), hdr.CapLen)
		assert.Equal(t, uint32(10), hdr.Len)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got, "callback must see exactly caplen bytes")

	require.NotEmpty(t, hook.Entries)
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == log.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "truncated capture must log a warning, not fail")
}

func TestBreakLoopFromAnotherGoroutine(t *testing.T) {
	sess := newFakeSession()
	sess.blockOnEmpty = true
	h := newLoopHandle(t, sess)

	breaker := h.LoopBreaker()
	defer breaker.Close()
	go func() {
		time.Sleep(10 * time.Millisecond)
		breaker.BreakLoop()
	}()

	done := make(chan error, 1)
	go func() {
		done <- h.Loop(0, func(PacketHeader, []byte) {})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err, "a broken loop is not an error")
	case <-time.After(5 * time.Second):
		t.Fatal("BreakLoop did not unblock the capture loop")
	}
	assert.Equal(t, 0, sess.closeCount(), "breaking must not close the session under the loop")
}

func TestClonedBreakerBreaksLoop(t *testing.T) {
	sess := newFakeSession()
	sess.blockOnEmpty = true
	h := newLoopHandle(t, sess)

	breaker := h.LoopBreaker()
	defer breaker.Close()
	clone := breaker.Clone()
	defer clone.Close()
	go func() {
		time.Sleep(10 * time.Millisecond)
		clone.BreakLoop()
	}()

	require.NoError(t, h.Loop(0, func(PacketHeader, []byte) {}))
}

func TestLoopSurfacesEngineFailure(t *testing.T) {
	sess := newFakeSession()
	sess.loopRC = engine.StatusError
	sess.lastErr = "the interface went away"
	h := newLoopHandle(t, sess)

	err := h.Loop(0, func(PacketHeader, []byte) {})
	var capErr *Error
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, engine.StatusError, capErr.Code)
	assert.Equal(t, "the interface went away", capErr.Message)
}

func TestListenDeliversOwnedCopies(t *testing.T) {
	backing := []byte{7, 7, 7}
	sess := newFakeSession()
	sess.packets = []fakePacket{
		{hdr: engine.RawHeader{CapLen: 3, Len: 3}, data: backing},
	}
	h := newLoopHandle(t, sess)

	var got []Packet
	for p := range h.Listen(1) {
		got = append(got, p)
	}
	require.Len(t, got, 1)
	require.NoError(t, got[0].Error)
	assert.Equal(t, []byte{7, 7, 7}, got[0].B)
	assert.Equal(t, 3, got[0].Info.CaptureLength)

	// mutating the engine buffer must not reach the delivered copy
	backing[0] = 0
	assert.Equal(t, byte(7), got[0].B[0])
}
