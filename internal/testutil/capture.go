package testutil

import (
	"context"
	"sync"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/plugin"
)

// CapturePlugin records everything delivered to it. OnInfo, when set, runs
// for each data object so tests can make the plugin emit results.
type CapturePlugin struct {
	plugin.Base

	name     string
	category plugin.Category
	accepted []data.Tag

	OnInfo func(ctx context.Context, pc *plugin.Context, d data.Data) error

	mu       sync.Mutex
	infos    []data.Data
	messages []message.Message
}

// NewCapturePlugin creates a testing plugin named "testing/<short>".
func NewCapturePlugin(short string, accepted ...data.Tag) *CapturePlugin {
	var tags []data.Tag
	if len(accepted) > 0 {
		tags = accepted
	}
	return &CapturePlugin{
		name:     string(plugin.CategoryTesting) + "/" + short,
		category: plugin.CategoryTesting,
		accepted: tags,
	}
}

func (p *CapturePlugin) Name() string              { return p.name }
func (p *CapturePlugin) Category() plugin.Category { return p.category }
func (p *CapturePlugin) AcceptedInfo() []data.Tag  { return p.accepted }

func (p *CapturePlugin) RecvInfo(ctx context.Context, pc *plugin.Context, d data.Data) error {
	p.mu.Lock()
	p.infos = append(p.infos, d)
	fn := p.OnInfo
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, pc, d)
	}
	return nil
}

func (p *CapturePlugin) RecvMsg(_ context.Context, _ *plugin.Context, msg message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

// Infos returns the data objects received so far.
func (p *CapturePlugin) Infos() []data.Data {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]data.Data(nil), p.infos...)
}

// Messages returns the control messages received so far.
func (p *CapturePlugin) Messages() []message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message.Message(nil), p.messages...)
}
