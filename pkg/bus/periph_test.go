package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func testPins() [3]*gpiotest.Pin {
	return [3]*gpiotest.Pin{
		{N: "GPIO8", Num: 8, L: gpio.Low},
		{N: "GPIO7", Num: 7, L: gpio.Low},
		{N: "GPIO25", Num: 25, L: gpio.Low},
	}
}

func TestPeriph_SelectLinesActiveLow(t *testing.T) {
	pins := testPins()
	p, err := newPeriph(nil, [3]gpio.PinIO{pins[0], pins[1], pins[2]})
	require.NoError(t, err)
	for _, pin := range pins {
		assert.Equal(t, gpio.High, pin.Read(), "%s idles high", pin)
	}

	c := NewContext(p, 0)
	h, err := c.Select(Line2)
	require.NoError(t, err)
	assert.Equal(t, gpio.High, pins[0].Read())
	assert.Equal(t, gpio.Low, pins[1].Read())
	assert.Equal(t, gpio.High, pins[2].Read())

	require.NoError(t, h.Release())
	for _, pin := range pins {
		assert.Equal(t, gpio.High, pin.Read())
	}
}

func TestPeriph_InvalidLine(t *testing.T) {
	pins := testPins()
	p, err := newPeriph(nil, [3]gpio.PinIO{pins[0], pins[1], pins[2]})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Assert(0), ErrInvalidLine)
	assert.ErrorIs(t, p.Deassert(4), ErrInvalidLine)
	assert.NoError(t, p.Close())
}
