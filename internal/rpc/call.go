package rpc

import (
	"context"

	"github.com/roach88/auditcore/internal/message"
)

// Handler serves one RPC code. audit is the caller's audit name.
type Handler func(ctx context.Context, audit string, args []any, kwargs map[string]any) (any, error)

// Call is the payload of an RPC message.
type Call struct {
	AuditName string
	Code      message.Code
	Args      []any
	Kwargs    map[string]any
	// Response receives exactly one Response for a synchronous call.
	// Nil makes the call asynchronous. A buffered channel of one is answered
	// without waiting; an unbuffered one needs a receiver within the
	// dispatcher's response wait.
	Response chan<- Response
}

// Response answers a synchronous call.
type Response struct {
	Success bool
	Result  any
	Err     *Error
}

// NewSyncCall builds a synchronous call and the channel its response
// arrives on.
func NewSyncCall(audit string, code message.Code, args ...any) (*Call, <-chan Response) {
	ch := make(chan Response, 1)
	return &Call{AuditName: audit, Code: code, Args: args, Response: ch}, ch
}

// NewAsyncCall builds a fire-and-forget call.
func NewAsyncCall(audit string, code message.Code, args ...any) *Call {
	return &Call{AuditName: audit, Code: code, Args: args}
}

// Message wraps the call in an RPC message.
func (c *Call) Message() message.Message {
	return message.NewRPC(c.Code, c.AuditName, c)
}

// Wait blocks for the response of a synchronous call or until ctx ends.
// A failed response is returned as its *Error.
func Wait(ctx context.Context, ch <-chan Response) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		if !resp.Success {
			if resp.Err == nil {
				return nil, &Error{Kind: KindInternal, Message: "call failed without error"}
			}
			return nil, resp.Err
		}
		return resp.Result, nil
	}
}
