//go:build linux

package engine

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const tstMsg = "The quick brown fox jumps over the lazy dog!"

// Live AF_PACKET smoke test. Needs raw-socket privileges, so it is
// skipped for ordinary users.
func TestLiveCaptureLoopback(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root for AF_PACKET sockets")
	}

	keepGoing := atomic.Bool{}
	keepGoing.Store(true)
	wg := &sync.WaitGroup{}
	runPublisher(t, wg, &keepGoing)
	defer func() {
		keepGoing.Store(false)
		wg.Wait()
	}()

	errbuf := make([]byte, ErrbufSize)
	sess := Default().OpenLive("lo", 1600, true, 100, errbuf)
	require.NotNil(t, sess, "open failed: %s", errbuf)
	defer sess.Close()

	// safety net so a quiet interface cannot hang the test
	timer := time.AfterFunc(10*time.Second, sess.BreakLoop)
	defer timer.Stop()

	var count int
	rc := sess.Loop(5, func(hdr RawHeader, data []byte) {
		require.NotZero(t, hdr.CapLen)
		require.LessOrEqual(t, int(hdr.CapLen), len(data))
		count++
	})
	t.Logf("loop returned %d after %d packets", rc, count)
	require.Contains(t, []int32{StatusOK, StatusBreak}, rc)
	if rc == StatusOK {
		require.Equal(t, 5, count)
	}
}

func TestLiveBreakUnblocksLoop(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires root for AF_PACKET sockets")
	}

	errbuf := make([]byte, ErrbufSize)
	sess := Default().OpenLive("lo", 1600, false, 0, errbuf)
	require.NotNil(t, sess, "open failed: %s", errbuf)
	defer sess.Close()

	go func() {
		time.Sleep(50 * time.Millisecond)
		sess.BreakLoop()
	}()

	done := make(chan int32, 1)
	go func() {
		done <- sess.Loop(0, func(RawHeader, []byte) {})
	}()
	select {
	case rc := <-done:
		require.Equal(t, StatusBreak, rc)
	case <-time.After(5 * time.Second):
		t.Fatal("BreakLoop did not unblock the poll")
	}
}

func TestUnactivatedSessionBreakAndClose(t *testing.T) {
	errbuf := make([]byte, ErrbufSize)
	sess := Default().Create("lo", errbuf)
	require.NotNil(t, sess)

	// the break pipe does not exist yet; neither call may touch fd 0
	sess.BreakLoop()
	sess.Close()
	sess.Close()
}

func runPublisher(t *testing.T, wg *sync.WaitGroup, keepGoing *atomic.Bool) {
	localhostAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:9999")
	require.NoError(t, err)
	sendUDP, err := net.DialUDP("udp", nil, localhostAddr)
	require.NoError(t, err)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sendUDP.Close()
		for keepGoing.Load() {
			// ignoring send errors, connection refused is expected here
			_, _ = sendUDP.Write([]byte(tstMsg))
			time.Sleep(500 * time.Microsecond)
		}
	}()
}
