package realtime

import (
	"sync"

	"github.com/silvershield/silvershield-backend/internal/models"
	"golang.org/x/exp/slog"
)

// EventDonationUpdate is the event name emitted on every donation state change.
const EventDonationUpdate = "donation:update"

// Event is a single fan-out message. Payload is the full donation record, the
// same shape the polling endpoint returns.
type Event struct {
	Name    string           `json:"name"`
	Payload *models.Donation `json:"payload"`
}

type subscriber struct {
	ch chan Event
}

// Hub broadcasts donation status changes to two audiences: the session
// watching one specific donation, and all admin sessions. It is constructed at
// process start and closed at shutdown; subscriptions are session-scoped and
// do not survive reconnects.
type Hub struct {
	mu           sync.RWMutex
	donationSubs map[string]map[*subscriber]struct{}
	adminSubs    map[*subscriber]struct{}
	closed       bool
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		donationSubs: make(map[string]map[*subscriber]struct{}),
		adminSubs:    make(map[*subscriber]struct{}),
	}
}

// SubscribeDonation registers a session watching a single donation id. The
// returned cancel func must be called when the session ends.
func (h *Hub) SubscribeDonation(donationID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 8)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	subs, ok := h.donationSubs[donationID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.donationSubs[donationID] = subs
	}
	subs[sub] = struct{}{}

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.donationSubs[donationID]; ok {
			if _, present := subs[sub]; present {
				delete(subs, sub)
				close(sub.ch)
			}
			if len(subs) == 0 {
				delete(h.donationSubs, donationID)
			}
		}
	}
}

// SubscribeAdmin registers an admin session receiving every donation update.
func (h *Hub) SubscribeAdmin() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 8)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.adminSubs[sub] = struct{}{}

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, present := h.adminSubs[sub]; present {
			delete(h.adminSubs, sub)
			close(sub.ch)
		}
	}
}

// PublishDonationUpdate broadcasts a state change to the donation's own
// audience and to all admins. Sends are fire-and-forget: a slow or absent
// subscriber never blocks the caller, and the store mutation this follows is
// already durable.
func (h *Hub) PublishDonationUpdate(donation *models.Donation) {
	if donation == nil {
		return
	}
	event := Event{Name: EventDonationUpdate, Payload: donation}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.donationSubs[donation.ID.Hex()] {
		deliver(sub, event)
	}
	for sub := range h.adminSubs {
		deliver(sub, event)
	}
}

func deliver(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		slog.Warn("realtime subscriber buffer full, dropping event", "event", event.Name)
	}
}

// Close tears the hub down, closing every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, subs := range h.donationSubs {
		for sub := range subs {
			close(sub.ch)
		}
		delete(h.donationSubs, id)
	}
	for sub := range h.adminSubs {
		close(sub.ch)
		delete(h.adminSubs, sub)
	}
}
