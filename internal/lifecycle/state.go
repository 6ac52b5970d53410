// Package lifecycle holds the per-service state machine and the running set.
package lifecycle

import "github.com/looplab/fsm"

// State is the lifecycle state of one service.
type State string

const (
	Stopped        State = "stopped"
	Starting       State = "starting"
	Running        State = "running"
	Stopping       State = "stopping"
	FailedToStart  State = "failed_to_start"
	FailedToStop   State = "failed_to_stop"
	StopIncomplete State = "stop_incomplete"
)

// Terminal reports whether s is an outcome rather than an operation in flight.
func (s State) Terminal() bool {
	return s != Starting && s != Stopping
}

func (s State) String() string { return string(s) }

// Events driving the machine.
const (
	EventStart          = "start"
	EventStartDone      = "start_done"
	EventStartFailed    = "start_failed"
	EventStop           = "stop"
	EventStopDone       = "stop_done"
	EventStopFailed     = "stop_failed"
	EventStopIncomplete = "stop_incomplete"
)

func str(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// transitions is the full machine. A start is refused while running or while
// another operation is in flight; a stop is refused only while in flight, so
// stopping an already stopped service re-confirms it.
var transitions = fsm.Events{
	{Name: EventStart, Src: str(Stopped, FailedToStart, FailedToStop, StopIncomplete), Dst: string(Starting)},
	{Name: EventStartDone, Src: str(Starting), Dst: string(Running)},
	{Name: EventStartFailed, Src: str(Starting), Dst: string(FailedToStart)},

	{Name: EventStop, Src: str(Running, Stopped, FailedToStart, FailedToStop, StopIncomplete), Dst: string(Stopping)},
	{Name: EventStopDone, Src: str(Stopping), Dst: string(Stopped)},
	{Name: EventStopFailed, Src: str(Stopping), Dst: string(FailedToStop)},
	{Name: EventStopIncomplete, Src: str(Stopping), Dst: string(StopIncomplete)},
}

func newMachine() *fsm.FSM {
	return fsm.NewFSM(string(Stopped), transitions, fsm.Callbacks{})
}
