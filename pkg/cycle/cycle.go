package cycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itohio/goecho/pkg/acquire"
	"github.com/itohio/goecho/pkg/channel"
	"github.com/itohio/goecho/pkg/convert"
	"github.com/itohio/goecho/pkg/frame"
)

// Config contains the scheduling parameters of a Runner.
type Config struct {
	ReferenceVoltage float32
	Interval         time.Duration
	// VoltageIDs are visited in order, one per cycle. Empty means every paired
	// voltage channel of the registry.
	VoltageIDs []int
	// MaxFailures consecutive failed cycles trigger a pause of Backoff.
	// Zero never backs off.
	MaxFailures int
	Backoff     time.Duration
}

// Result is the outcome of one successful cycle.
type Result struct {
	Voltage convert.Reading
	Current convert.Reading
	Bytes   int
}

// Runner acquires a voltage/current pair, reports it and streams the frame.
// It must be driven from a single goroutine.
type Runner struct {
	reg       *channel.Registry
	engine    *acquire.Engine
	writer    *frame.Writer
	heartbeat Heartbeat
	cfg       Config
	logger    *log.Logger

	cycles   int
	failures int
}

// New creates a runner. A nil heartbeat disables it.
func New(reg *channel.Registry, engine *acquire.Engine, writer *frame.Writer, hb Heartbeat, cfg Config) *Runner {
	if hb == nil {
		hb = NopHeartbeat{}
	}
	if len(cfg.VoltageIDs) == 0 {
		cfg.VoltageIDs = reg.VoltageIDs()
	}
	return &Runner{
		reg:       reg,
		engine:    engine,
		writer:    writer,
		heartbeat: hb,
		cfg:       cfg,
		logger:    log.Default(),
	}
}

// SetLogger replaces the status and error logger.
func (r *Runner) SetLogger(l *log.Logger) {
	if l != nil {
		r.logger = l
	}
}

// RunOnce performs one cycle for voltageID. Nothing is sent unless both
// batches were acquired and encoded.
func (r *Runner) RunOnce(ctx context.Context, voltageID int) (Result, error) {
	vd, cd, err := r.reg.Pair(voltageID)
	if err != nil {
		return Result{}, err
	}
	_, vcal, err := r.reg.Lookup(vd.ID)
	if err != nil {
		return Result{}, err
	}
	_, ccal, err := r.reg.Lookup(cd.ID)
	if err != nil {
		return Result{}, err
	}

	v, c, err := r.engine.AcquirePair(ctx, vd, cd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to acquire: %w", err)
	}

	vr, err := convert.Convert(v, vcal, r.cfg.ReferenceVoltage)
	if err != nil {
		return Result{}, err
	}
	cr, err := convert.Convert(c, ccal, r.cfg.ReferenceVoltage)
	if err != nil {
		return Result{}, err
	}

	data, err := frame.Encode(v, c)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode frame: %w", err)
	}

	r.logger.Print(vr)
	r.logger.Print(cr)

	n, err := r.writer.Send(ctx, data)
	if err != nil {
		return Result{Voltage: vr, Current: cr, Bytes: n}, fmt.Errorf("failed to send frame: %w", err)
	}
	return Result{Voltage: vr, Current: cr, Bytes: n}, nil
}

// Run drives cycles at the configured interval until ctx is done. A failed
// cycle is retried for the same channel on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.cfg.VoltageIDs) == 0 {
		return fmt.Errorf("%w: no paired voltage channels", channel.ErrInvalidChannel)
	}
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := 0
	for {
		id := r.cfg.VoltageIDs[next]
		if _, err := r.RunOnce(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.failures++
			r.logger.Printf("Cycle for U%d failed (%d in a row): %v", id, r.failures, err)
			if errors.Is(err, channel.ErrInvalidChannel) {
				return err
			}
			if r.cfg.MaxFailures > 0 && r.failures >= r.cfg.MaxFailures {
				r.logger.Printf("Backing off for %s", r.cfg.Backoff)
				if err := sleep(ctx, r.cfg.Backoff); err != nil {
					return err
				}
				r.failures = 0
			}
		} else {
			r.cycles++
			r.failures = 0
			next = (next + 1) % len(r.cfg.VoltageIDs)
		}

		if err := r.heartbeat.Toggle(); err != nil {
			r.logger.Printf("Heartbeat failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cycles returns the number of successful cycles run by Run.
func (r *Runner) Cycles() int {
	return r.cycles
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
