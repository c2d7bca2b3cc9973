package gip

// This file implements the client lifecycle state machine (spec.md §4.3).
// Like the transition table it is modeled on, it is a pure function over a
// table -- no Client dependency, no side effects beyond the Action list the
// caller executes.
//
// State diagram (spec.md §4.3):
//
//	             ANNOUNCE pkt          IDENTIFY reply
//	Connected ──────────────────► Announced ──────────────► Identified
//	     │                             │                         │
//	     │  STATUS(disconnect)         │ STATUS(disconnect)      │ STATUS(disconnect)
//	     ▼                             ▼                         ▼
//	                            Disconnected (terminal)

// State is a client's position in the lifecycle state machine.
type State uint8

const (
	// StateConnected is the initial state of a client created on first
	// sight of a header referencing its id.
	StateConnected State = iota

	// StateAnnounced is reached once the client's Announce packet has
	// been processed.
	StateAnnounced

	// StateIdentified is reached once the client's Identify reply has
	// been parsed. Input, audio, and HID are valid only here.
	StateIdentified

	// StateDisconnected is terminal: reached from any state on a Status
	// packet with the connected bit clear.
	StateDisconnected
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "Connected"
	case StateAnnounced:
		return "Announced"
	case StateIdentified:
		return "Identified"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Event is a lifecycle FSM event, derived from an inbound message.
type Event uint8

const (
	// EventAnnounce is the event for a received Announce packet (0x02).
	EventAnnounce Event = iota

	// EventIdentifyReply is the event for a received Identify packet
	// (0x04) while Announced.
	EventIdentifyReply

	// EventStatusDisconnect is the event for a received Status packet
	// (0x03) with the connected bit clear. Valid from any state.
	EventStatusDisconnect
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventAnnounce:
		return "Announce"
	case EventIdentifyReply:
		return "IdentifyReply"
	case EventStatusDisconnect:
		return "StatusDisconnect"
	default:
		return "Unknown"
	}
}

// Action is a side effect the caller must execute after a transition.
type Action uint8

const (
	// ActionRequestIdentify sends an Identify request to the client
	// (spec.md §4.4: Announce "requests Identify").
	ActionRequestIdentify Action = iota + 1

	// ActionRegisterDriver posts a driver-registration task onto the
	// adapter's ordered queue (spec.md §4.3's "Driver matching").
	ActionRegisterDriver

	// ActionScheduleRemoval schedules removal of the client from the bus
	// (spec.md §4.3's "which schedules removal").
	ActionScheduleRemoval
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionRequestIdentify:
		return "RequestIdentify"
	case ActionRegisterDriver:
		return "RegisterDriver"
	case ActionScheduleRemoval:
		return "ScheduleRemoval"
	default:
		return "Unknown"
	}
}

// stateEvent is the FSM transition table key.
type stateEvent struct {
	state State
	event Event
}

// transition describes the target state and side effects of a single
// (state, event) pair.
type transition struct {
	newState State
	actions  []Action
}

// fsmTable is the complete client lifecycle transition table (spec.md
// §4.3). Disconnect is reachable from every non-terminal state; Announce
// and IdentifyReply are each valid from exactly one state. Pairs not
// listed here are silently ignored -- dispatch of a command the current
// state does not accept is itself governed separately (P4, §4.4), this
// table only covers the three lifecycle-advancing events.
var fsmTable = map[stateEvent]transition{
	// Connected + Announce -> Announced (spec.md §4.4 row 0x02).
	{StateConnected, EventAnnounce}: {
		newState: StateAnnounced,
		actions:  []Action{ActionRequestIdentify},
	},

	// Announced + IdentifyReply -> Identified, then driver matching
	// (spec.md §4.3's "On transition into Identified...").
	{StateAnnounced, EventIdentifyReply}: {
		newState: StateIdentified,
		actions:  []Action{ActionRegisterDriver},
	},

	// Disconnect is valid from any non-terminal state.
	{StateConnected, EventStatusDisconnect}: {
		newState: StateDisconnected,
		actions:  []Action{ActionScheduleRemoval},
	},
	{StateAnnounced, EventStatusDisconnect}: {
		newState: StateDisconnected,
		actions:  []Action{ActionScheduleRemoval},
	},
	{StateIdentified, EventStatusDisconnect}: {
		newState: StateDisconnected,
		actions:  []Action{ActionScheduleRemoval},
	},
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	// OldState is the state before the event was applied.
	OldState State

	// NewState is the state after the event was applied. Equal to
	// OldState when the event is ignored in this state.
	NewState State

	// Actions lists the side effects the caller must execute. Empty when
	// the event is ignored.
	Actions []Action

	// Changed is true when NewState differs from OldState.
	Changed bool
}

// ApplyEvent applies an FSM event to the given state and returns the
// result. Pure function: no Client dependency, no side effects. If the
// (state, event) pair has no table entry -- e.g. Identify arriving while
// Connected, or Announce arriving twice -- the event is ignored and
// Changed is false.
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
