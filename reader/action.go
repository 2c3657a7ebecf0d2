package reader

import (
	"context"

	"github.com/werkstattwaedi/machine-auth-sub000/ntag424"
)

// ActionResult is what an NtagAction's Loop returns each tick: whether the
// worker should keep calling it, or dequeue it.
type ActionResult int

const (
	// ActionContinue means the action is still in progress.
	ActionContinue ActionResult = iota
	// ActionDone means the action has reached a terminal state and should
	// be dequeued.
	ActionDone
)

// NtagAction is queued onto the reader's FIFO action queue and serviced
// one Loop call per tick while the originating tag remains
// Ntag424Authenticated (spec §4.1, §4.4, §5). On tag departure the queue is
// drained via OnAbort rather than further Loop calls.
type NtagAction interface {
	Loop(ctx context.Context, t ntag424.Transceiver) ActionResult
	OnAbort(err error)
}

// transceiveResult is what a transceiveAction delivers back to the
// RequestTransceive caller.
type transceiveResult struct {
	data []byte
	err  error
}

// transceiveAction adapts one ad hoc APDU exchange into an NtagAction so
// RequestTransceive shares the same FIFO ordering and serialization as
// StartSession-style actions queued by the Session Coordinator (spec §4.1
// "serialized against other operations on the reader").
type transceiveAction struct {
	apdu   []byte
	respCh chan transceiveResult
}

func (a *transceiveAction) Loop(ctx context.Context, t ntag424.Transceiver) ActionResult {
	data, err := t.Transceive(ctx, a.apdu)
	a.respCh <- transceiveResult{data: data, err: err}
	return ActionDone
}

func (a *transceiveAction) OnAbort(err error) {
	a.respCh <- transceiveResult{err: err}
}
