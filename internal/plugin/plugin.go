// Package plugin defines the analysis plugin model and runs plugins on a
// worker pool.
//
// Plugins never touch orchestrator state directly. They receive data and
// control messages through a Host, talk back through a Context (which turns
// every call into a message), and the Host acknowledges each counted
// delivery once the plugin returns.
package plugin

import (
	"context"
	"fmt"

	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
)

// Category groups plugins by role.
type Category string

const (
	CategoryTesting Category = "testing"
	CategoryReport  Category = "report"
	CategoryUI      Category = "ui"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryTesting, CategoryReport, CategoryUI:
		return c, nil
	default:
		return "", fmt.Errorf("unknown plugin category %q", s)
	}
}

// Plugin is an analysis, report or UI component.
//
// Names are "category/short", for example "report/json".
type Plugin interface {
	Name() string
	Category() Category
	// AcceptedInfo lists the data tags the plugin wants; nil means all.
	AcceptedInfo() []data.Tag
	RecvInfo(ctx context.Context, pc *Context, d data.Data) error
	RecvMsg(ctx context.Context, pc *Context, msg message.Message) error
}

// Reporter is a plugin that writes audit reports.
type Reporter interface {
	Plugin
	IsSupported(outputFile string) bool
	GenerateReport(ctx context.Context, pc *Context, req message.ReportRequest) error
}

// Base supplies no-op receive methods for plugins embedding it.
type Base struct{}

func (Base) AcceptedInfo() []data.Tag { return nil }

func (Base) RecvInfo(context.Context, *Context, data.Data) error { return nil }

func (Base) RecvMsg(context.Context, *Context, message.Message) error { return nil }
