package rpc

import (
	"fmt"

	"github.com/roach88/auditcore/internal/message"
)

// Registry maps RPC codes to handlers. It is written during startup only
// and read-only afterwards, so it needs no locking.
type Registry struct {
	handlers map[message.Code]Handler
	// order records registration order for listings.
	order []message.Code
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[message.Code]Handler)}
}

// Register binds a handler to code. Registering a code twice is an error.
func (r *Registry) Register(code message.Code, h Handler) error {
	name := message.CodeName(message.TypeRPC, code)
	if h == nil {
		return fmt.Errorf("register %s: nil handler", name)
	}
	if _, ok := r.handlers[code]; ok {
		return fmt.Errorf("register %s: already registered", name)
	}
	r.handlers[code] = h
	r.order = append(r.order, code)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(code message.Code, h Handler) {
	if err := r.Register(code, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler for code.
func (r *Registry) Lookup(code message.Code) (Handler, bool) {
	h, ok := r.handlers[code]
	return h, ok
}

// Codes returns the registered codes in registration order.
func (r *Registry) Codes() []message.Code {
	return append([]message.Code(nil), r.order...)
}

// Validate checks that every known RPC code has a handler.
func (r *Registry) Validate() error {
	var missing []string
	for _, code := range message.RPCCodes() {
		if _, ok := r.handlers[code]; !ok {
			missing = append(missing, message.CodeName(message.TypeRPC, code))
		}
	}
	if len(missing) > 0 {
		return &MissingHandlersError{Codes: missing}
	}
	return nil
}
