package cycle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/bus"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/frame"
	"github.com/itohio/goecho/pkg/transport"
)

// stallingAdapter blocks the first stalls transactions until ctx is done.
type stallingAdapter struct {
	*bus.Mock
	stalls int
}

func (s *stallingAdapter) Transact(ctx context.Context, out byte) (byte, error) {
	if s.stalls > 0 {
		s.stalls--
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return s.Mock.Transact(ctx, out)
}

type countingHeartbeat struct {
	toggles int
}

func (c *countingHeartbeat) Toggle() error {
	c.toggles++
	return nil
}

type fixture struct {
	mock   *bus.Mock
	out    *bytes.Buffer
	logs   *bytes.Buffer
	runner *Runner
}

func newFixture(t *testing.T, adapter bus.Adapter, mock *bus.Mock, hb Heartbeat, cfg Config) *fixture {
	t.Helper()
	b := bus.NewContext(adapter, 0)
	require.NoError(t, b.Idle())

	out := &bytes.Buffer{}
	logs := &bytes.Buffer{}
	w := frame.NewWriter(transport.NewWriter(out), time.Second)
	r := New(channel.Default(), acquire.New(b, 5*time.Millisecond), w, hb, cfg)
	r.SetLogger(log.New(logs, "", 0))
	return &fixture{mock: mock, out: out, logs: logs, runner: r}
}

func decodeAll(t *testing.T, r io.Reader) []frame.Frame {
	t.Helper()
	d := frame.NewDecoder(r)
	var frames []frame.Frame
	for {
		f, err := d.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestRunOnce_ACPair(t *testing.T) {
	mock := bus.NewMock()
	mock.Respond = func(bus.Line, int) uint16 { return 300 }
	f := newFixture(t, mock, mock, nil, Config{ReferenceVoltage: 3.3})

	res, err := f.runner.RunOnce(context.Background(), channel.ACVoltage)
	require.NoError(t, err)

	assert.Equal(t, channel.ACVoltage, res.Voltage.Channel)
	assert.Equal(t, channel.ACCurrent, res.Current.Channel)
	assert.Equal(t, float32(300), res.Voltage.Mean)
	assert.InDelta(t, -69.76, res.Voltage.Value, 0.1)
	assert.Equal(t, 8+2*(20+20), res.Bytes)

	frames := decodeAll(t, f.out)
	require.Len(t, frames, 1)
	assert.Equal(t, channel.ACVoltage, frames[0].VoltageID)
	assert.Len(t, frames[0].Voltage, 20)
	assert.Len(t, frames[0].Current, 20)

	assert.Contains(t, f.logs.String(), "U6 300.000000")
	assert.Contains(t, f.logs.String(), "U13 300.000000")
	assert.Empty(t, mock.Violations())
}

func TestRunOnce_BusTimeoutSendsNothing(t *testing.T) {
	mock := bus.NewMock()
	mock.StallAfter = 3 * 10
	f := newFixture(t, mock, mock, nil, Config{ReferenceVoltage: 3.3})

	_, err := f.runner.RunOnce(context.Background(), channel.DCVoltage1)
	assert.ErrorIs(t, err, bus.ErrBusTimeout)
	assert.Zero(t, f.out.Len())
	for _, l := range bus.Lines {
		assert.False(t, mock.Asserted(l))
	}
}

func TestRunOnce_InvalidChannel(t *testing.T) {
	mock := bus.NewMock()
	f := newFixture(t, mock, mock, nil, Config{ReferenceVoltage: 3.3})

	for _, id := range []int{-1, channel.DCCurrent1, 14} {
		_, err := f.runner.RunOnce(context.Background(), id)
		assert.ErrorIs(t, err, channel.ErrInvalidChannel, "id %d", id)
	}
	assert.Empty(t, mock.Events()[3:], "no bus traffic after idle")
}

func TestRun_RetriesFailedCycle(t *testing.T) {
	mock := bus.NewMock()
	adapter := &stallingAdapter{Mock: mock, stalls: 1}
	hb := &countingHeartbeat{}
	f := newFixture(t, adapter, mock, hb, Config{
		ReferenceVoltage: 3.3,
		Interval:         5 * time.Millisecond,
		VoltageIDs:       []int{channel.DCVoltage1, channel.DCVoltage2},
		MaxFailures:      3,
		Backoff:          time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	frames := decodeAll(t, f.out)
	require.GreaterOrEqual(t, len(frames), 2)
	assert.Equal(t, channel.DCVoltage1, frames[0].VoltageID, "failed channel is retried first")
	assert.Equal(t, channel.DCVoltage2, frames[1].VoltageID)
	assert.Equal(t, len(frames), f.runner.Cycles())
	assert.GreaterOrEqual(t, hb.toggles, len(frames)+1)

	assert.Equal(t, 1, strings.Count(f.logs.String(), "in a row"))
	assert.Contains(t, f.logs.String(), bus.ErrBusTimeout.Error())
	assert.Empty(t, mock.Violations())
}

func TestRun_BacksOffAfterConsecutiveFailures(t *testing.T) {
	mock := bus.NewMock()
	mock.StallAfter = 1
	f := newFixture(t, mock, mock, nil, Config{
		ReferenceVoltage: 3.3,
		Interval:         time.Millisecond,
		MaxFailures:      2,
		Backoff:          time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.runner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, 2, strings.Count(f.logs.String(), "in a row"))
	assert.Contains(t, f.logs.String(), "Backing off for 1h0m0s")
	assert.Zero(t, f.out.Len())
	assert.Zero(t, f.runner.Cycles())
}

func TestRun_NoChannels(t *testing.T) {
	reg, err := channel.NewRegistry(channel.DefaultDescriptors()[:7], channel.DefaultCalibrations()[:7])
	require.NoError(t, err)

	mock := bus.NewMock()
	r := New(reg, acquire.New(bus.NewContext(mock, 0), 0), frame.NewWriter(transport.NewWriter(io.Discard), 0), nil, Config{})
	assert.ErrorIs(t, r.Run(context.Background()), channel.ErrInvalidChannel)
}

func TestPinHeartbeat(t *testing.T) {
	pin := &gpiotest.Pin{N: "LED", Num: 17}
	hb, err := NewPinHeartbeat(pin)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, pin.Read())

	require.NoError(t, hb.Toggle())
	assert.Equal(t, gpio.Low, pin.Read())
	assert.Equal(t, gpio.Low, hb.Level())

	require.NoError(t, hb.Toggle())
	assert.Equal(t, gpio.High, pin.Read())
}
