package convert

import (
	"errors"
	"fmt"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/channel"
)

// Resolution is the number of ADC steps over the reference voltage.
const Resolution = 1024

var ErrEmptyBatch = errors.New("empty batch")

// Reading is a converted batch.
type Reading struct {
	Channel int
	Samples int
	Mean    float32 // mean raw code
	Value   float32 // engineering value of Mean
	Instant float32 // engineering value of the first code
}

// LSB returns the voltage of one ADC step.
func LSB(vref float32) float32 {
	return vref / Resolution
}

// Mean returns the mean code of b. The sum is accumulated in 32 bits, which
// holds MaxSamples full scale codes with room to spare.
func Mean(b acquire.Batch) (float32, error) {
	if len(b.Codes) == 0 {
		return 0, fmt.Errorf("channel %d: %w", b.Channel, ErrEmptyBatch)
	}
	var sum uint32
	for _, c := range b.Codes {
		sum += uint32(c & acquire.CodeMask)
	}
	return float32(sum) / float32(len(b.Codes)), nil
}

// ToEngineeringUnits converts a raw code, or a mean of codes, using cal.
func ToEngineeringUnits(raw float32, cal channel.Calibration, vref float32) float32 {
	return (raw*LSB(vref) - cal.Offset) * cal.Scale
}

// Convert reduces b to its mean and converts both the mean and the first code.
func Convert(b acquire.Batch, cal channel.Calibration, vref float32) (Reading, error) {
	mean, err := Mean(b)
	if err != nil {
		return Reading{}, err
	}
	return Reading{
		Channel: b.Channel,
		Samples: len(b.Codes),
		Mean:    mean,
		Value:   ToEngineeringUnits(mean, cal, vref),
		Instant: ToEngineeringUnits(float32(b.Codes[0]), cal, vref),
	}, nil
}

// String formats r as a status line.
func (r Reading) String() string {
	return fmt.Sprintf("U%d %f %f (single: %f)", r.Channel, r.Mean, r.Value, r.Instant)
}
