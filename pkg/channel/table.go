package channel

import "github.com/itohio/goecho/pkg/bus"

// Channel ids as wired on the board.
const (
	DCVoltage1 = iota
	DCVoltage2
	DCVoltage3
	DCVoltage4
	DCVoltage5
	DCVoltage6
	ACVoltage
	DCCurrent1
	DCCurrent2
	DCCurrent3
	DCCurrent4
	DCCurrent5
	DCCurrent6
	ACCurrent
)

// DefaultDescriptors returns the board channel table. ADC 1 carries DC
// voltages 1-4, ADC 2 DC voltages 5-6 and AC voltage, ADC 3 all currents.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{ID: DCVoltage1, Name: "DC voltage 1", Bus: bus.Line1, Command: 0x00, Samples: 10},
		{ID: DCVoltage2, Name: "DC voltage 2", Bus: bus.Line1, Command: 0x20, Samples: 10},
		{ID: DCVoltage3, Name: "DC voltage 3", Bus: bus.Line1, Command: 0x40, Samples: MaxSamples},
		{ID: DCVoltage4, Name: "DC voltage 4", Bus: bus.Line1, Command: 0x60, Samples: MaxSamples},
		{ID: DCVoltage5, Name: "DC voltage 5", Bus: bus.Line2, Command: 0x00, Samples: MaxSamples},
		{ID: DCVoltage6, Name: "DC voltage 6", Bus: bus.Line2, Command: 0x20, Samples: MaxSamples},
		{ID: ACVoltage, Name: "AC voltage", Bus: bus.Line2, Command: 0x40, Samples: 20},
		{ID: DCCurrent1, Name: "DC current 1", Bus: bus.Line3, Command: 0x80, Samples: 20},
		{ID: DCCurrent2, Name: "DC current 2", Bus: bus.Line3, Command: 0x90, Samples: 20},
		{ID: DCCurrent3, Name: "DC current 3", Bus: bus.Line3, Command: 0xA0, Samples: MaxSamples},
		{ID: DCCurrent4, Name: "DC current 4", Bus: bus.Line3, Command: 0xB0, Samples: MaxSamples},
		{ID: DCCurrent5, Name: "DC current 5", Bus: bus.Line3, Command: 0xC0, Samples: MaxSamples},
		{ID: DCCurrent6, Name: "DC current 6", Bus: bus.Line3, Command: 0xD0, Samples: MaxSamples},
		{ID: ACCurrent, Name: "AC current", Bus: bus.Line3, Command: 0xF0, Samples: 20},
	}
}

// DefaultCalibrations returns the board calibration table.
// The DC voltage channels are not calibrated yet: Scale 0 collapses their
// output to 0 whatever the input.
func DefaultCalibrations() []Calibration {
	return []Calibration{
		{Scale: 0, Offset: 11},
		{Scale: 0, Offset: 11},
		{Scale: 0, Offset: 11},
		{Scale: 0, Offset: 11},
		{Scale: 0, Offset: 11},
		{Scale: 0, Offset: 11},
		{Scale: 99.623, Offset: 1.667},
		{Scale: 7.842, Offset: 2.5},
		{Scale: 0.00541, Offset: 2.5},
		{Scale: 0.00541, Offset: 2.5},
		{Scale: 0.00541, Offset: 2.5},
		{Scale: 0.00541, Offset: 2.5},
		{Scale: 0.00541, Offset: 2.5},
		{Scale: 0.0150, Offset: 2.5},
	}
}

// Default returns the registry of the board table.
func Default() *Registry {
	r, err := NewRegistry(DefaultDescriptors(), DefaultCalibrations())
	if err != nil {
		panic(err)
	}
	return r
}
