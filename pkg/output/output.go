package output

import (
	"time"

	"github.com/itohio/goecho/pkg/convert"
	"github.com/itohio/goecho/pkg/host"
)

type Output interface {
	Publish(host.Measurement) error
	Close() error
}

// Record is the published form of one channel reading.
type Record struct {
	Time    time.Time `json:"time"`
	Channel int       `json:"channel"`
	Samples int       `json:"samples"`
	Mean    float32   `json:"mean"`
	Value   float32   `json:"value"`
	Instant float32   `json:"instant"`
}

// Records splits m into its voltage and current records.
func Records(m host.Measurement) []Record {
	return []Record{
		record(m.Timestamp, m.Voltage),
		record(m.Timestamp, m.Current),
	}
}

func record(ts time.Time, r convert.Reading) Record {
	return Record{
		Time:    ts,
		Channel: r.Channel,
		Samples: r.Samples,
		Mean:    r.Mean,
		Value:   r.Value,
		Instant: r.Instant,
	}
}

// Multi publishes to every output, returning the first error.
type Multi []Output

func (m Multi) Publish(meas host.Measurement) error {
	var first error
	for _, o := range m {
		if err := o.Publish(meas); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, o := range m {
		if err := o.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
