package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wcsconnector/core/pkg/model"
	"github.com/wcsconnector/core/pkg/tracker"
)

// observerBuffer bounds how far behind a slow observer can fall before
// its oldest unread result is dropped in favour of newer ones — the
// broadcast is best-effort per observer, not a durable log.
const observerBuffer = 256

// replyHub drains the shared result queue, updates PendingTracker, and
// fans each result out to every registered observer under an
// observe_results() contract: multiple independent, restartable
// observers, each with its own best-effort buffer.
type replyHub struct {
	trk  *tracker.Tracker
	in   <-chan model.CommandResult
	log  *slog.Logger
	sink AuditSink

	mu        sync.Mutex
	observers map[int]chan model.CommandResult
	nextID    int

	done chan struct{}
}

func newReplyHub(trk *tracker.Tracker, in <-chan model.CommandResult, sink AuditSink) *replyHub {
	return &replyHub{
		trk:       trk,
		in:        in,
		log:       slog.With("component", "reply_hub"),
		sink:      sink,
		observers: make(map[int]chan model.CommandResult),
		done:      make(chan struct{}),
	}
}

func (h *replyHub) run() {
	defer close(h.done)
	for result := range h.in {
		h.apply(result)
		h.broadcast(result)
		if h.sink != nil {
			h.sink.Record(context.Background(), result)
		}
	}
	h.closeObservers()
}

func (h *replyHub) apply(result model.CommandResult) {
	switch result.Status {
	case model.Alarm:
		h.trk.SetAlarm(result.DeviceID, result.PlcErrorCode, result.PlcErrorMessage)
	default:
		h.trk.MarkCompleted(result.CommandID, result)
		if result.Status != model.Success {
			h.trk.SetFailure(result.DeviceID, result.Message)
		}
	}
}

func (h *replyHub) broadcast(result model.CommandResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.observers {
		select {
		case ch <- result:
		default:
			h.log.Warn("observer falling behind, dropping oldest result", "observer_id", id)
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- result:
			default:
			}
		}
	}
}

// subscribe registers a new observer and returns its receive channel
// plus an unsubscribe func.
func (h *replyHub) subscribe() (<-chan model.CommandResult, func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	ch := make(chan model.CommandResult, observerBuffer)
	h.observers[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.observers, id)
		h.mu.Unlock()
	}
}

func (h *replyHub) closeObservers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.observers {
		close(ch)
		delete(h.observers, id)
	}
}
