// Package eventlog implements the Internal Event Records described in
// spec section 4.6: the append-only, ordered trace the Step Engine
// writes as it works, reified so an external collaborator can persist
// it and later restore a run from a root event id.
package eventlog

import (
	"github.com/google/uuid"
)

// Tag identifies the kind of interpreter action a Record describes.
// The set matches spec section 4.6 verbatim.
type Tag string

const (
	MachineStart Tag = "MACHINE_START"
	MachineFinish Tag = "MACHINE_FINISH"

	StateEnter Tag = "STATE_ENTER"
	StateExit  Tag = "STATE_EXIT"

	StateEntryStart  Tag = "STATE_ENTRY_START"
	StateEntryFinish Tag = "STATE_ENTRY_FINISH"
	StateExitStart   Tag = "STATE_EXIT_START"
	StateExitFinish  Tag = "STATE_EXIT_FINISH"

	ParallelRegionEnter Tag = "PARALLEL_REGION_ENTER"
	ParallelDone        Tag = "PARALLEL_DONE"

	TransitionStart  Tag = "TRANSITION_START"
	TransitionFinish Tag = "TRANSITION_FINISH"
	TransitionFail   Tag = "TRANSITION_FAIL"

	ActionStart  Tag = "ACTION_START"
	ActionFinish Tag = "ACTION_FINISH"

	GuardStart Tag = "GUARD_START"
	GuardPass  Tag = "GUARD_PASS"
	GuardFail  Tag = "GUARD_FAIL"

	CalculatorStart  Tag = "CALCULATOR_START"
	CalculatorFinish Tag = "CALCULATOR_FINISH"

	EventRaised Tag = "EVENT_RAISED"
)

// Record is one row of the trace. Payload is small and
// behavior-specific (e.g. a failing guard's message, keyed by the
// guard's name, per spec section 4.6).
type Record struct {
	Sequence    int
	Tag         Tag
	Placeholder string
	Payload     map[string]any
	ShouldLog   bool
	RootEventID string
}

// Log is the append-only, per-run sequence of Records. The first
// Record appended becomes the run's root; its id is handed back to
// callers for restoration (spec section 3, "Internal Event Record").
type Log struct {
	records     []Record
	rootEventID string
	seq         int
}

// NewLog creates an empty Log with a freshly minted root event id.
func NewLog() *Log {
	return &Log{rootEventID: uuid.New().String()}
}

// RootEventID returns the id assigned to this run's first record.
func (l *Log) RootEventID() string {
	return l.rootEventID
}

// Append records one interpreter action and returns the Record written,
// mainly so callers can inspect ShouldLog without re-scanning.
func (l *Log) Append(tag Tag, placeholder string, payload map[string]any, shouldLog bool) Record {
	r := Record{
		Sequence:    l.seq,
		Tag:         tag,
		Placeholder: placeholder,
		Payload:     payload,
		ShouldLog:   shouldLog,
		RootEventID: l.rootEventID,
	}
	l.seq++
	l.records = append(l.records, r)
	return r
}

// Records returns the accumulated trace in execution order.
func (l *Log) Records() []Record {
	return l.records
}

// Clone returns an independent copy sharing the same root event id,
// used when a runtime State is handed to a caller.
func (l *Log) Clone() *Log {
	out := &Log{rootEventID: l.rootEventID, seq: l.seq}
	out.records = make([]Record, len(l.records))
	copy(out.records, l.records)
	return out
}
