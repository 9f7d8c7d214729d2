package orchestrator

import (
	"fmt"
	"strings"
)

// State is a step of an entry or exit run.
type State string

const (
	StateStart State = "START"

	StateSpotReserved      State = "SPOT_RESERVED"
	StateVehicleRegistered State = "VEHICLE_REGISTERED"
	StateTicketOpen        State = "TICKET_OPEN"
	StateAborted           State = "ABORTED"

	StateTicketFetched  State = "TICKET_FETCHED"
	StateFeeComputed    State = "FEE_COMPUTED"
	StatePaymentCharged State = "PAYMENT_CHARGED"
	StateTicketClosed   State = "TICKET_CLOSED"
	StateSpotReleased   State = "SPOT_RELEASED"
)

// transitions lists the legal successors of each state.
type transitions map[State][]State

// Entry runs can only roll back while a spot is reserved and no ticket
// exists yet.
var entryTransitions = transitions{
	StateStart:             {StateSpotReserved},
	StateSpotReserved:      {StateVehicleRegistered, StateAborted},
	StateVehicleRegistered: {StateTicketOpen, StateAborted},
}

// Exit runs have no rollback edge: once payment is captured they only move
// forward.
var exitTransitions = transitions{
	StateStart:          {StateTicketFetched},
	StateTicketFetched:  {StateFeeComputed},
	StateFeeComputed:    {StatePaymentCharged},
	StatePaymentCharged: {StateTicketClosed},
	StateTicketClosed:   {StateSpotReleased},
}

// run records the path of one workflow execution.
type run struct {
	table transitions
	path  []State
}

func newRun(table transitions) *run {
	return &run{table: table, path: []State{StateStart}}
}

func (r *run) current() State { return r.path[len(r.path)-1] }

// advance moves to next.  An edge missing from the table is a programming
// error.
func (r *run) advance(next State) {
	from := r.current()
	for _, s := range r.table[from] {
		if s == next {
			r.path = append(r.path, next)
			return
		}
	}
	panic(fmt.Sprintf("orchestrator: illegal transition %s -> %s", from, next))
}

// Path returns a copy of the states visited so far.
func (r *run) Path() []State {
	out := make([]State, len(r.path))
	copy(out, r.path)
	return out
}

func (r *run) String() string {
	parts := make([]string, len(r.path))
	for i, s := range r.path {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
