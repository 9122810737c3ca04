package host

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/frame"
)

func constant(id, n int, code uint16) acquire.Batch {
	codes := make([]uint16, n)
	for i := range codes {
		codes[i] = code
	}
	return acquire.Batch{Channel: id, Codes: codes}
}

func encode(t *testing.T, id int, code uint16) []byte {
	t.Helper()
	data, err := frame.Encode(constant(id, 20, code), constant(id+channel.CurrentOffset, 20, code))
	require.NoError(t, err)
	return data
}

func receive(t *testing.T, ch <-chan Measurement) Measurement {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "measurements channel closed")
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no measurement received")
	}
	return Measurement{}
}

func TestConvert(t *testing.T) {
	v := constant(channel.ACVoltage, 20, 300)
	c := constant(channel.ACCurrent, 20, 0x0400|512)
	f := frame.Frame{VoltageID: channel.ACVoltage, Voltage: v.Codes, Current: c.Codes}

	m, err := Convert(f, channel.Default(), 3.3)
	require.NoError(t, err)
	assert.Equal(t, channel.ACVoltage, m.Voltage.Channel)
	assert.InDelta(t, -69.76, m.Voltage.Value, 0.1)
	assert.Equal(t, channel.ACCurrent, m.Current.Channel)
	assert.Equal(t, float32(512), m.Current.Mean, "codes are masked to 10 bits")
	assert.Equal(t, uint16(0x0400|512), f.Current[0], "frame is not modified")
}

func TestConvert_UnknownChannel(t *testing.T) {
	reg, err := channel.NewRegistry(channel.DefaultDescriptors()[:8], channel.DefaultCalibrations()[:8])
	require.NoError(t, err)

	f := frame.Frame{VoltageID: 3, Voltage: []uint16{1}, Current: []uint16{1}}
	_, err = Convert(f, reg, 3.3)
	assert.ErrorIs(t, err, channel.ErrInvalidChannel)
}

func TestReceiver_Frames(t *testing.T) {
	pr, pw := io.Pipe()
	r := New("pipe", 0, 4, channel.Default(), 3.3)
	require.NoError(t, r.Attach(pr))
	assert.True(t, r.IsConnected())
	assert.ErrorIs(t, r.Attach(pr), ErrConnected)

	ac := encode(t, channel.ACVoltage, 300)
	dc := encode(t, channel.DCVoltage3, 100)
	go func() {
		pw.Write([]byte("U6 300.000000 -69.761917 (single: -69.761917)\n"))
		pw.Write(ac)
		pw.Write(dc)
	}()

	m := receive(t, r.Measurements())
	assert.Equal(t, channel.ACVoltage, m.Frame.VoltageID)
	assert.InDelta(t, -69.76, m.Voltage.Value, 0.1)
	assert.False(t, m.Timestamp.IsZero())

	m = receive(t, r.Measurements())
	assert.Equal(t, channel.DCVoltage3, m.Frame.VoltageID)
	assert.Equal(t, float32(100), m.Voltage.Mean)
	assert.Equal(t, float32(0), m.Voltage.Value)
	assert.Greater(t, r.Skipped(), int64(0))

	require.NoError(t, r.Close())
	assert.False(t, r.IsConnected())
}

func TestReceiver_EndOfStream(t *testing.T) {
	pr, pw := io.Pipe()
	r := New("pipe", 0, 4, channel.Default(), 3.3)
	require.NoError(t, r.Attach(pr))

	data := encode(t, channel.DCVoltage1, 10)
	go func() {
		pw.Write(data)
		pw.Close()
	}()

	receive(t, r.Measurements())
	select {
	case _, ok := <-r.Measurements():
		assert.False(t, ok, "channel should close at end of stream")
	case <-time.After(5 * time.Second):
		t.Fatal("channel did not close at end of stream")
	}
	require.NoError(t, r.Close())
}

func TestReceiver_CloseWithoutConnect(t *testing.T) {
	r := New("/dev/does-not-exist", 0, 0, channel.Default(), 3.3)
	require.Error(t, r.Connect())

	require.NoError(t, r.Close())
	select {
	case _, ok := <-r.Measurements():
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("measurements channel left open")
	}

	require.NoError(t, r.Close())
	pr, _ := io.Pipe()
	assert.ErrorIs(t, r.Attach(pr), ErrNotConnected)
}
