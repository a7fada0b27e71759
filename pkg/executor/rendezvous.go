package executor

import (
	"fmt"
	"sync"

	"github.com/wcsconnector/core/pkg/model"
)

// BarcodeTimeout is the hard rendezvous timeout for an Inbound command
// waiting on its barcode read.
const BarcodeTimeout = 5 * 60 // seconds, see signal package PollInterval for tick granularity

// BarcodeResponse is the caller's answer to a BarcodeReceived event,
// correlated by command id via SendValidationResult.
type BarcodeResponse struct {
	Valid          bool
	Destination    *model.Location
	GateNumber     int
	EnterDirection *model.Direction
	Reason         string
}

// BarcodeHub implements one one-shot reply slot per in-flight Inbound
// command: one Register per command_id, exactly one Respond accepted,
// duplicates rejected.
type BarcodeHub struct {
	mu    sync.Mutex
	slots map[string]chan BarcodeResponse
}

// NewBarcodeHub returns an empty hub.
func NewBarcodeHub() *BarcodeHub {
	return &BarcodeHub{slots: make(map[string]chan BarcodeResponse)}
}

// Register opens a one-shot reply slot for commandID. Calling Register
// twice for the same id without an intervening Respond/Cancel is a bug
// in the caller and returns an error.
func (h *BarcodeHub) Register(commandID string) (<-chan BarcodeResponse, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.slots[commandID]; exists {
		return nil, fmt.Errorf("barcode rendezvous: slot already open for %q", commandID)
	}
	ch := make(chan BarcodeResponse, 1)
	h.slots[commandID] = ch
	return ch, nil
}

// Respond delivers resp to the waiting Inbound executor. A second call
// for the same commandID (or one for which no slot exists) is rejected
// as a duplicate/unknown response.
func (h *BarcodeHub) Respond(commandID string, resp BarcodeResponse) error {
	h.mu.Lock()
	ch, exists := h.slots[commandID]
	if exists {
		delete(h.slots, commandID)
	}
	h.mu.Unlock()

	if !exists {
		return fmt.Errorf("barcode rendezvous: no pending command %q (already answered or unknown)", commandID)
	}
	ch <- resp
	close(ch)
	return nil
}

// Cancel closes out the slot without a caller response — used when the
// rendezvous times out, so a late Respond is rejected as unknown rather
// than delivered to nobody.
func (h *BarcodeHub) Cancel(commandID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.slots, commandID)
}
