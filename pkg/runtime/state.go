// Package runtime implements the State (runtime) value of spec
// section 3: the snapshot passed into and produced by one RTC step.
package runtime

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/fluo-sh/fluo/pkg/eventlog"
	"github.com/fluo-sh/fluo/pkg/fcontext"
	"github.com/fluo-sh/fluo/pkg/fevent"
)

// State is the value a host holds between calls to the public API. It
// owns its Context and its Log for the duration of a step; once a step
// returns, the caller owns the result and may pass it back in
// untouched for the next step.
type State struct {
	MachineID    string
	Delimiter    string
	Active       []string // fully-qualified leaf ids; singleton unless parallel
	Context      *fcontext.Context
	CurrentEvent *fevent.Event
	Log          *eventlog.Log
	RootEventID  string
	History      map[string]string // history-state id -> recorded child/leaf id
}

// CurrentValue returns the set of fully-qualified active leaf ids.
func CurrentValue(s *State) []string {
	out := make([]string, len(s.Active))
	copy(out, s.Active)
	return out
}

// Matches reports whether path is, or is a descendant of, one of the
// active leaves. The comparison is prefix-based on the dotted route
// excluding the machine id, per spec section 6.
func Matches(s *State, path string) bool {
	for _, active := range s.Active {
		rel := strings.TrimPrefix(active, s.MachineID+s.Delimiter)
		if rel == path {
			return true
		}
		if strings.HasPrefix(rel, path+s.Delimiter) {
			return true
		}
	}
	return false
}

// Clone produces an independent snapshot: a new Context copy, a new
// Log copy, and a fresh Active slice, so mutation during a later step
// never leaks backward into a State a caller already holds.
func (s *State) Clone() *State {
	out := &State{
		MachineID:   s.MachineID,
		Delimiter:   s.Delimiter,
		RootEventID: s.RootEventID,
	}
	out.Active = make([]string, len(s.Active))
	copy(out.Active, s.Active)
	if s.Context != nil {
		out.Context = s.Context.Clone()
	}
	if s.Log != nil {
		out.Log = s.Log.Clone()
	}
	if s.CurrentEvent != nil {
		ev := *s.CurrentEvent
		out.CurrentEvent = &ev
	}
	out.History = make(map[string]string, len(s.History))
	for k, v := range s.History {
		out.History[k] = v
	}
	return out
}

type snapshot struct {
	MachineID   string         `json:"machineId"`
	Active      []string       `json:"active"`
	Context     map[string]any `json:"context"`
	RootEventID string         `json:"rootEventId"`
}

// MarshalJSON shapes the hand-off payload for the external persistence
// collaborator named in spec section 1: active leaves, context, and
// the root event id used to restore a run later. The core itself never
// writes this anywhere.
func (s *State) MarshalJSON() ([]byte, error) {
	active := append([]string(nil), s.Active...)
	sort.Strings(active)
	var ctx map[string]any
	if s.Context != nil {
		ctx = s.Context.GetAll()
	}
	return json.Marshal(snapshot{
		MachineID:   s.MachineID,
		Active:      active,
		Context:     ctx,
		RootEventID: s.RootEventID,
	})
}
