package console

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/itohio/goecho/pkg/host"
	"github.com/itohio/goecho/pkg/output"
)

type ConsoleOutput struct {
	w io.Writer
}

// NewConsole writes to stdout.
func NewConsole() output.Output { return NewWriter(os.Stdout) }

// NewWriter writes to w.
func NewWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(m host.Measurement) error {
	for _, r := range output.Records(m) {
		_, err := fmt.Fprintf(c.w, "%s channel=%d samples=%d mean=%.3f value=%.6f single=%.6f\n",
			r.Time.Format(time.RFC3339), r.Channel, r.Samples, r.Mean, r.Value, r.Instant)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsoleOutput) Close() error { return nil }
