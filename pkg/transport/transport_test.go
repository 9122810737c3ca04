package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	assert.True(t, w.Ready())
	for _, c := range []byte("P0") {
		require.NoError(t, w.WriteByte(c))
	}
	assert.Equal(t, "P0", buf.String())
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("unplugged") }

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return 0, nil }

func TestWriter_Errors(t *testing.T) {
	assert.EqualError(t, NewWriter(failWriter{}).WriteByte('P'), "unplugged")
	assert.ErrorIs(t, NewWriter(shortWriter{}).WriteByte('P'), io.ErrShortWrite)
}

func TestFIFO_BackPressure(t *testing.T) {
	f := NewFIFO(3)

	for i := range 3 {
		assert.True(t, f.Ready())
		require.NoError(t, f.WriteByte(byte(i)))
	}
	assert.False(t, f.Ready())
	assert.ErrorIs(t, f.WriteByte(9), ErrFull)
	assert.Equal(t, 3, f.Len())

	got := f.Drain(nil, 2)
	assert.Equal(t, []byte{0, 1}, got)
	assert.True(t, f.Ready())

	got = f.Drain(got[:0], 0)
	assert.Equal(t, []byte{2}, got)
	assert.Equal(t, 0, f.Len())
}

func TestFIFO_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultFIFOSize, NewFIFO(0).Cap())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func TestFIFO_Pump(t *testing.T) {
	f := NewFIFO(4)
	var sink syncBuffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Pump(ctx, &sink, time.Millisecond) }()

	want := []byte("hello, host")
	for _, c := range want {
		for !f.Ready() {
			time.Sleep(100 * time.Microsecond)
		}
		require.NoError(t, f.WriteByte(c))
	}

	assert.Eventually(t, func() bool {
		return bytes.Equal(want, sink.Bytes())
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Pump did not stop after cancel")
	}
}

func TestFIFO_PumpWriteError(t *testing.T) {
	f := NewFIFO(4)
	require.NoError(t, f.WriteByte('x'))
	err := f.Pump(context.Background(), failWriter{}, time.Millisecond)
	assert.EqualError(t, err, "unplugged")
}
