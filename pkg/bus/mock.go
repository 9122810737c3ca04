package bus

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gammazero/deque"
)

// DefaultHistory is the number of events and violations a Mock keeps.
const DefaultHistory = 4096

// EventKind classifies a recorded Mock event.
type EventKind int

const (
	EventAssert EventKind = iota
	EventDeassert
	EventTransact
)

// Event is one adapter call observed by Mock.
type Event struct {
	Kind EventKind
	Line Line
	Out  byte
	In   byte
}

// Mock simulates three 10-bit ADCs behind the select lines. It records the
// most recent calls and notes any call made while the select lines are not
// exclusive.
type Mock struct {
	// Respond returns the 16-bit word clocked out for the n-th completed
	// transaction on line. Nil uses a slow sine per line.
	Respond func(line Line, n int) uint16
	// StallAfter makes Transact block until ctx is done once this many bytes
	// have been exchanged. Zero disables stalling.
	StallAfter int
	// History bounds the recorded events and violations; older entries are
	// dropped first. Zero uses DefaultHistory.
	History int

	mu         sync.Mutex
	asserted   [4]bool
	pos        int
	completed  [4]int
	exchanged  int
	events     deque.Deque[Event]
	violations deque.Deque[string]
}

var _ Adapter = (*Mock)(nil)

// NewMock creates a Mock with the default signal generator.
func NewMock() *Mock {
	return &Mock{}
}

// Assert records the assertion of line.
func (m *Mock) Assert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range Lines {
		if other != line && m.asserted[other] {
			pushBounded(&m.violations, m.history(), fmt.Sprintf("%s asserted while %s active", line, other))
		}
	}
	if !m.asserted[line] {
		m.pos = 0
	}
	m.asserted[line] = true
	pushBounded(&m.events, m.history(), Event{Kind: EventAssert, Line: line})
	return nil
}

// Deassert records the release of line and completes its transaction.
func (m *Mock) Deassert(line Line) error {
	if !line.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidLine, uint8(line))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.asserted[line] {
		m.completed[line]++
	}
	m.asserted[line] = false
	pushBounded(&m.events, m.history(), Event{Kind: EventDeassert, Line: line})
	return nil
}

// Transact returns 0 for the first byte of a transaction, then the high and
// low byte of the response word.
func (m *Mock) Transact(ctx context.Context, out byte) (byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if m.StallAfter > 0 && m.exchanged >= m.StallAfter {
		m.mu.Unlock()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	m.exchanged++

	line, n := Line(0), 0
	for _, l := range Lines {
		if m.asserted[l] {
			n++
			line = l
		}
	}
	if n != 1 {
		pushBounded(&m.violations, m.history(), fmt.Sprintf("transact 0x%02X with %d lines asserted", out, n))
	}

	var in byte
	if line != 0 {
		word := m.respond(line, m.completed[line])
		switch m.pos {
		case 1:
			in = byte(word >> 8)
		case 2:
			in = byte(word)
		}
	}
	m.pos++
	pushBounded(&m.events, m.history(), Event{Kind: EventTransact, Line: line, Out: out, In: in})
	m.mu.Unlock()

	return in, nil
}

func (m *Mock) respond(line Line, n int) uint16 {
	if m.Respond != nil {
		return m.Respond(line, n)
	}
	phase := float64(n)*0.05 + float64(line)
	return uint16(512 + 400*math.Sin(phase))
}

func (m *Mock) history() int {
	if m.History > 0 {
		return m.History
	}
	return DefaultHistory
}

func pushBounded[T any](q *deque.Deque[T], limit int, v T) {
	for q.Len() >= limit {
		q.PopFront()
	}
	q.PushBack(v)
}

func snapshot[T any](q *deque.Deque[T]) []T {
	if q.Len() == 0 {
		return nil
	}
	out := make([]T, q.Len())
	for i := range out {
		out[i] = q.At(i)
	}
	return out
}

// Events returns a copy of the recorded calls, oldest first.
func (m *Mock) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(&m.events)
}

// Violations returns the recorded select exclusivity violations.
func (m *Mock) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(&m.violations)
}

// Asserted reports whether line is currently asserted.
func (m *Mock) Asserted(line Line) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return line.Valid() && m.asserted[line]
}

// Completed returns how many transactions finished on line.
func (m *Mock) Completed(line Line) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !line.Valid() {
		return 0
	}
	return m.completed[line]
}
