package search

import (
	"encoding/json"
	"fmt"

	"github.com/standardbeagle/sift/internal/types"
)

// EventKind identifies a run lifecycle event.
type EventKind uint8

const (
	EventStart EventKind = iota
	EventProgress
	EventResult
	EventStop
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventProgress:
		return "progress"
	case EventResult:
		return "result"
	case EventStop:
		return "stop"
	case EventDone:
		return "done"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one message of a run's event stream.
//   - start: the run began
//   - progress: Completed of Total candidate files are done
//   - result: Result holds one file's matches or its scan error
//   - stop: the run ended early; Err is set when enumeration failed
//   - done: every candidate file was scanned
type Event struct {
	Kind      EventKind
	RunID     string
	Completed int
	Total     int
	Result    *types.FileResult
	Err       error
}

type eventJSON struct {
	Kind      EventKind         `json:"kind"`
	RunID     string            `json:"run_id"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Result    *types.FileResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// MarshalJSON renders errors as strings.
func (e Event) MarshalJSON() ([]byte, error) {
	out := eventJSON{
		Kind:      e.Kind,
		RunID:     e.RunID,
		Completed: e.Completed,
		Total:     e.Total,
		Result:    e.Result,
	}
	switch {
	case e.Err != nil:
		out.Error = e.Err.Error()
	case e.Result != nil && e.Result.Err != nil:
		out.Error = e.Result.Err.Error()
	}
	return json.Marshal(out)
}

// State is the lifecycle state of a run.
type State uint8

const (
	StateIdle State = iota
	StateEnumerating
	StateScanning
	StateDone
	StateStopped
	StateAborted
	// StateFailed is a stop caused by an enumeration or pattern error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEnumerating:
		return "enumerating"
	case StateScanning:
		return "scanning"
	case StateDone:
		return "done"
	case StateStopped:
		return "stopped"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the run has ended.
func (s State) Terminal() bool {
	return s >= StateDone
}
