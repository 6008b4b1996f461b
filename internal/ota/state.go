package ota

import (
	"context"

	"github.com/looplab/fsm"

	"github.com/vitaminmoo/bluelocate/internal/config"
)

// State is the phase of an upload session.
type State string

const (
	Idle                  State = "idle"
	SentStart             State = "sent-start"
	AwaitingStartConfirm  State = "awaiting-start-confirm"
	Transferring          State = "transferring"
	SentFinish            State = "sent-finish"
	AwaitingFinishConfirm State = "awaiting-finish-confirm"
	Completed             State = "completed"
	Failed                State = "failed"
)

// Terminal reports whether s has no outgoing transitions.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// events of the upload FSM
const (
	evSendStart      = "send-start"
	evStartSent      = "start-sent"
	evStartConfirmed = "start-confirmed"
	evSendFinish     = "send-finish"
	evFinishSent     = "finish-sent"
	evComplete       = "complete"
	evFail           = "fail"
)

func newMachine(id string, onEnter func(from, to State)) *fsm.FSM {
	live := []string{
		string(Idle), string(SentStart), string(AwaitingStartConfirm),
		string(Transferring), string(SentFinish), string(AwaitingFinishConfirm),
	}

	return fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: evSendStart, Src: []string{string(Idle)}, Dst: string(SentStart)},
			{Name: evStartSent, Src: []string{string(SentStart)}, Dst: string(AwaitingStartConfirm)},
			{Name: evStartConfirmed, Src: []string{string(AwaitingStartConfirm)}, Dst: string(Transferring)},
			{Name: evSendFinish, Src: []string{string(Transferring)}, Dst: string(SentFinish)},
			{Name: evFinishSent, Src: []string{string(SentFinish)}, Dst: string(AwaitingFinishConfirm)},
			{Name: evComplete, Src: []string{string(AwaitingFinishConfirm)}, Dst: string(Completed)},
			// exceptional treatment: any live state may fail
			{Name: evFail, Src: live, Dst: string(Failed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				config.WithFields(map[string]interface{}{
					"session": id,
					"event":   e.Event,
				}).Debugf("OTA %s -> %s", e.Src, e.Dst)
				if onEnter != nil {
					onEnter(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
