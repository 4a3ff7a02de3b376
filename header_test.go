package gocap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeStampConversion(t *testing.T) {
	ts := TimeStamp{Sec: 10, Usec: 500_000}
	want := time.Unix(0, 0).Add(10500 * time.Millisecond)
	assert.True(t, ts.Time().Equal(want), "expected exactly 10.5s after the epoch, got %v", ts.Time())
}

func TestPacketHeaderCaptureInfo(t *testing.T) {
	hdr := PacketHeader{
		TS:     TimeStamp{Sec: 1700000000, Usec: 123456},
		CapLen: 64,
		Len:    1500,
	}
	ci := hdr.CaptureInfo()
	assert.Equal(t, 64, ci.CaptureLength)
	assert.Equal(t, 1500, ci.Length)
	assert.True(t, ci.Timestamp.Equal(time.Unix(1700000000, 123456000)))
}
