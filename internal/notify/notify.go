// Package notify fans messages out to the plugins of one audit and reports
// how many acknowledgments the deliveries will produce.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
)

// Receiver is a plugin as seen by a Notifier.
type Receiver interface {
	Name() string
	// AcceptedInfo lists the data tags the receiver wants; nil means all.
	AcceptedInfo() []data.Tag
	// Deliver hands msg over without waiting for it to be processed.
	Deliver(ctx context.Context, msg message.Message) error
}

// ExpectsACK reports whether delivering msg to one plugin obliges that
// plugin to answer with exactly one ACK.
func ExpectsACK(msg message.Message) bool {
	return msg.Type() == message.TypeData || msg.IsControl(message.ControlStartReport)
}

// Notifier delivers messages to registered receivers in registration order.
type Notifier struct {
	mu        sync.RWMutex
	receivers []Receiver
}

// New creates an empty notifier.
func New() *Notifier {
	return &Notifier{}
}

// AddPlugin registers a receiver.
func (n *Notifier) AddPlugin(r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers = append(n.receivers, r)
}

// Plugins returns the receiver names in registration order.
func (n *Notifier) Plugins() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.receivers))
	for i, r := range n.receivers {
		names[i] = r.Name()
	}
	return names
}

// Notify delivers msg and returns the number of ACKs to expect.
//
// Data goes to every receiver whose accepted tags match and counts one per
// successful delivery. Control messages go to every receiver; only
// START_REPORT counts. A failed delivery is logged and not counted.
func (n *Notifier) Notify(ctx context.Context, msg message.Message) int {
	n.mu.RLock()
	receivers := append([]Receiver(nil), n.receivers...)
	n.mu.RUnlock()

	var d data.Data
	if msg.Type() == message.TypeData {
		var ok bool
		d, ok = msg.Payload().(data.Data)
		if !ok {
			slog.Warn("data message without data payload",
				"audit", msg.AuditName(),
				"payload", slog.AnyValue(msg.Payload()),
			)
			return 0
		}
	}

	counts := ExpectsACK(msg)
	expected := 0
	for _, r := range receivers {
		if d != nil && !data.MatchesAny(r.AcceptedInfo(), d) {
			continue
		}
		if err := r.Deliver(ctx, msg); err != nil {
			slog.Error("plugin delivery failed",
				"audit", msg.AuditName(),
				"plugin", r.Name(),
				"message", msg.String(),
				"error", err,
			)
			continue
		}
		if counts {
			expected++
		}
	}
	return expected
}

// UINotifier delivers to UI plugins and never forwards ACKs.
type UINotifier struct {
	*Notifier
}

// NewUI creates an empty UI notifier.
func NewUI() *UINotifier {
	return &UINotifier{Notifier: New()}
}

// Notify delivers msg unless it is an ACK.
func (u *UINotifier) Notify(ctx context.Context, msg message.Message) int {
	if msg.IsACK() {
		return 0
	}
	return u.Notifier.Notify(ctx, msg)
}
