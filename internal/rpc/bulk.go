package rpc

import (
	"context"
	"fmt"

	"github.com/roach88/auditcore/internal/message"
)

// BulkHandler returns the BULK handler: it runs one RPC code over a list of
// argument tuples and returns the results in order. The first failure
// aborts the batch.
//
//	args[0]: the sub-call code
//	args[1]: []any of []any argument tuples
func BulkHandler(r *Registry) Handler {
	return func(ctx context.Context, audit string, args []any, kwargs map[string]any) (any, error) {
		code, err := ArgCode(args, 0)
		if err != nil {
			return nil, err
		}
		if code == message.RPCBulk {
			return nil, InvalidArgument("nested BULK call")
		}
		h, ok := r.Lookup(code)
		if !ok {
			return nil, fmt.Errorf("%w: bulk of %s", ErrNotImplemented, message.CodeName(message.TypeRPC, code))
		}

		raw, err := Arg(args, 1)
		if err != nil {
			return nil, err
		}
		batch, ok := raw.([]any)
		if !ok {
			return nil, InvalidArgument("argument 1: want list of argument lists, got %T", raw)
		}

		results := make([]any, len(batch))
		for i, entry := range batch {
			tuple, err := argTuple(entry)
			if err != nil {
				return nil, err
			}
			res, err := h(ctx, audit, tuple, kwargs)
			if err != nil {
				return nil, fmt.Errorf("bulk item %d: %w", i, err)
			}
			results[i] = res
		}
		return results, nil
	}
}
