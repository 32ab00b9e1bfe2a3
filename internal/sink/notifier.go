package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Notifier sends a payload when the resolved count of an address grows.
// The first count seen for an address is a baseline and is not sent.
type Notifier struct {
	sender Sender
	log    *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last map[string]uint64
}

func NewNotifier(sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		sender: sender,
		log:    log,
		now:    time.Now,
		last:   map[string]uint64{},
	}
}

// Observe records count and returns the payload to send, if any.
func (n *Notifier) Observe(addr string, count uint64, source string) (EventPayload, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev, seen := n.last[addr]
	if seen && count <= prev {
		return EventPayload{}, false
	}
	n.last[addr] = count
	if !seen {
		return EventPayload{}, false
	}
	return EventPayload{
		Address:  addr,
		Previous: prev,
		Count:    count,
		Source:   source,
		At:       n.now().UTC(),
	}, true
}

// Notify observes count and delivers a payload when it grew. Delivery
// failures are logged and returned.
func (n *Notifier) Notify(ctx context.Context, addr string, count uint64, source string) error {
	p, ok := n.Observe(addr, count, source)
	if !ok || n.sender == nil {
		return nil
	}
	if err := n.sender.Send(ctx, p); err != nil {
		if n.log != nil {
			n.log.Warn("notify failed", "address", addr, "count", count, "err", err)
		}
		return err
	}
	if n.log != nil {
		n.log.Info("notified", "address", addr, "previous", p.Previous, "count", count)
	}
	return nil
}
