package host

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/goecho/pkg/channel"
)

// TestReceiver_GracefulShutdown tests that the measurements channel closes
// when Close() is called on a stream that is still open.
func TestReceiver_GracefulShutdown(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := New("pipe", 0, 0, channel.Default(), 3.3)
	err := r.Attach(pr)
	assert.NoError(t, err)

	measurements := r.Measurements()

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range measurements {
			received++
			if received >= 3 {
				r.Close()
			}
		}
	}()

	data := encode(t, channel.DCVoltage2, 42)
	go func() {
		for {
			if _, err := pw.Write(data); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Measurements channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3, "Should receive measurements before channel closes")

	_, ok := <-measurements
	assert.False(t, ok, "Channel should be closed")
	assert.False(t, r.IsConnected())
}
