// Package ui forwards orchestrator traffic to user interface plugins.
//
// UI plugins observe; they never take part in an audit's ACK accounting.
// The Manager skips ACK messages, and the Host running UI plugins must
// report through a sender wrapped with DropACKs so the deliveries made
// here are never acknowledged back to an audit.
package ui

import (
	"context"
	"sync"

	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/notify"
	"github.com/roach88/auditcore/internal/plugin"
)

// Attacher binds a plugin to an audit. *plugin.Host implements it.
type Attacher interface {
	Attach(p plugin.Plugin, audit string) notify.Receiver
}

// Manager is the bus listener for UI plugins. It keeps one UI notifier per
// audit so plugin contexts carry the right audit name; messages without an
// audit use a global one.
type Manager struct {
	host    Attacher
	plugins []plugin.Plugin

	mu        sync.Mutex
	notifiers map[string]*notify.UINotifier
}

// NewManager creates a manager delivering to plugins through host.
func NewManager(host Attacher, plugins []plugin.Plugin) *Manager {
	return &Manager{
		host:      host,
		plugins:   plugins,
		notifiers: make(map[string]*notify.UINotifier),
	}
}

// Plugins returns the names of the UI plugins.
func (m *Manager) Plugins() []string {
	names := make([]string, len(m.plugins))
	for i, p := range m.plugins {
		names[i] = p.Name()
	}
	return names
}

// Receive is the bus listener hook.
func (m *Manager) Receive(ctx context.Context, msg message.Message) error {
	if len(m.plugins) == 0 || msg.Type() == message.TypeRPC || msg.IsACK() {
		return nil
	}
	m.notifier(msg.AuditName()).Notify(ctx, msg)
	if msg.IsControl(message.ControlStopAudit) {
		m.mu.Lock()
		delete(m.notifiers, msg.AuditName())
		m.mu.Unlock()
	}
	return nil
}

// Start tells the UI plugins the orchestrator is up.
func (m *Manager) Start(ctx context.Context) {
	_ = m.Receive(ctx, message.NewControl(message.ControlStartUI, "", nil, message.PriorityHigh))
}

// Stop tells the UI plugins the orchestrator is going down.
func (m *Manager) Stop(ctx context.Context) {
	_ = m.Receive(ctx, message.NewControl(message.ControlStopUI, "", nil, message.PriorityHigh))
}

func (m *Manager) notifier(audit string) *notify.UINotifier {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifiers[audit]
	if !ok {
		n = notify.NewUI()
		for _, p := range m.plugins {
			n.AddPlugin(m.host.Attach(p, audit))
		}
		m.notifiers[audit] = n
	}
	return n
}

// DropACKs wraps a sender so ACK messages are discarded.
func DropACKs(s message.Sender) message.Sender {
	return message.SenderFunc(func(m message.Message) bool {
		if m.IsACK() {
			return true
		}
		return s.Enqueue(m)
	})
}
