// Package logprinter formats an eventlog.Log for human consumption.
// The Step Engine's only observability surface is its Internal Event
// Record trace (spec section 4.6); this package is the optional,
// outside-the-core convenience that turns that trace into readable
// lines, the same role the teacher's LoggingObserver played against
// its own lifecycle callbacks.
//
// Adapted from the teacher's pkg/observers/logging_observer.go: kept
// the level-gated Printer/LogFormatter shape and the mutex-guarded
// SetFormatter, replaced the five StateMachine lifecycle callbacks
// (OnStateEnter/OnStateExit/OnTransition/OnEventProcessed/OnError)
// with a single Print(log) that walks an eventlog.Log's Records.
package logprinter

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fluo-sh/fluo/pkg/eventlog"
)

// Level gates which tags a Printer writes out.
type Level int

const (
	// LevelError prints only TRANSITION_FAIL and GUARD_FAIL records.
	LevelError Level = iota
	// LevelInfo also prints state entry/exit and transition completion.
	LevelInfo
	// LevelDebug prints every record, including action/guard/calculator
	// start/finish pairs.
	LevelDebug
)

// Formatter renders one Record as a line of text.
type Formatter func(r eventlog.Record) string

// DefaultFormatter renders a Record as "[TAG] placeholder payload".
func DefaultFormatter(r eventlog.Record) string {
	if len(r.Payload) == 0 {
		return fmt.Sprintf("[%s] %s", r.Tag, r.Placeholder)
	}
	return fmt.Sprintf("[%s] %s %v", r.Tag, r.Placeholder, r.Payload)
}

// Printer writes a Log's Records to an io.Writer, gated by Level.
type Printer struct {
	level     Level
	prefix    string
	out       io.Writer
	mu        sync.RWMutex
	formatter Formatter
}

// New creates a Printer that writes to os.Stdout at LevelInfo.
func New(prefix string) *Printer {
	return &Printer{level: LevelInfo, prefix: prefix, out: os.Stdout, formatter: DefaultFormatter}
}

// NewWithLevel creates a Printer writing to w at the given level.
func NewWithLevel(level Level, prefix string, w io.Writer) *Printer {
	return &Printer{level: level, prefix: prefix, out: w, formatter: DefaultFormatter}
}

// SetFormatter replaces the line formatter.
func (p *Printer) SetFormatter(f Formatter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formatter = f
}

func levelOf(tag eventlog.Tag) Level {
	switch tag {
	case eventlog.TransitionFail, eventlog.GuardFail:
		return LevelError
	case eventlog.MachineStart, eventlog.MachineFinish,
		eventlog.StateEnter, eventlog.StateExit,
		eventlog.TransitionStart, eventlog.TransitionFinish,
		eventlog.ParallelRegionEnter, eventlog.ParallelDone,
		eventlog.EventRaised, eventlog.GuardPass:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Print writes every Record in log whose level is at or below the
// Printer's configured level.
func (p *Printer) Print(log *eventlog.Log) {
	p.mu.RLock()
	formatter := p.formatter
	p.mu.RUnlock()

	for _, r := range log.Records() {
		if levelOf(r.Tag) > p.level {
			continue
		}
		line := formatter(r)
		if p.prefix != "" {
			line = fmt.Sprintf("[%s] %s", p.prefix, line)
		}
		fmt.Fprintln(p.out, line)
	}
}
