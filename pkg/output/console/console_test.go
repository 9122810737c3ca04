package console

import (
	"bytes"
	"testing"
	"time"

	"github.com/itohio/goecho/pkg/convert"
	"github.com/itohio/goecho/pkg/host"
)

func TestConsolePublish(t *testing.T) {
	var buf bytes.Buffer
	c := NewWriter(&buf)
	ts := time.Date(2025, 9, 19, 14, 41, 54, 0, time.UTC)
	m := host.Measurement{
		Timestamp: ts,
		Voltage:   convert.Reading{Channel: 6, Samples: 20, Mean: 300, Value: -69.761917, Instant: -69.5},
		Current:   convert.Reading{Channel: 13, Samples: 20, Mean: 512.5, Value: 0.0125, Instant: 0.0123},
	}
	if err := c.Publish(m); err != nil {
		t.Fatal(err)
	}
	want := "2025-09-19T14:41:54Z channel=6 samples=20 mean=300.000 value=-69.761917 single=-69.500000\n" +
		"2025-09-19T14:41:54Z channel=13 samples=20 mean=512.500 value=0.012500 single=0.012300\n"
	if got := buf.String(); got != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", got, want)
	}
}
