package pool

import "time"

// connID is an opaque arena index identifying a connection. Handles carry
// a connID instead of a reference back into the registry, per the design
// note in spec §9 (arena-plus-index instead of a handle<->pool reference
// cycle).
type connID uint64

// connState is the lifecycle state of one tracked connection (spec §4.2).
type connState int

const (
	stateConnecting connState = iota
	stateReconnecting
	stateIdle
	stateActive
	stateDisconnecting
)

func (s connState) variant() Variant {
	switch s {
	case stateConnecting:
		return VarConnecting
	case stateReconnecting:
		return VarReconnecting
	case stateIdle:
		return VarIdle
	case stateActive:
		return VarActive
	case stateDisconnecting:
		return VarDisconnecting
	default:
		panic("pool: unknown conn state")
	}
}

// connRecord[C] is the single executor's bookkeeping for one physical
// connection. It is mutated only by the pool's actor goroutine.
type connRecord[C any] struct {
	id         connID
	db         string
	state      connState
	conn       C
	createdAt  time.Time
	lastActive time.Time
	poisoned   bool

	// reconnectTo is set while state == stateReconnecting, naming the
	// destination block (spec: "Reconnecting(→B)").
	reconnectTo string
}
