package rpc

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/roach88/auditcore/internal/message"
)

// Arg returns args[i] or an invalid-argument error.
func Arg(args []any, i int) (any, error) {
	if i >= len(args) {
		return nil, InvalidArgument("missing argument %d", i)
	}
	return args[i], nil
}

// ArgString returns args[i] as a string.
func ArgString(args []any, i int) (string, error) {
	v, err := Arg(args, i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", InvalidArgument("argument %d: want string, got %T", i, v)
	}
	return s, nil
}

// ArgInt returns args[i] as an int. Integral floats (as decoded from JSON)
// are accepted.
func ArgInt(args []any, i int) (int, error) {
	v, err := Arg(args, i)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(v)
	if !ok {
		return 0, InvalidArgument("argument %d: want integer, got %T", i, v)
	}
	return n, nil
}

// OptionalArgInt returns args[i] as an int, or def when absent.
func OptionalArgInt(args []any, i int, def int) (int, error) {
	if i >= len(args) || args[i] == nil {
		return def, nil
	}
	return ArgInt(args, i)
}

// ArgStrings returns args[i] as a string slice.
func ArgStrings(args []any, i int) ([]string, error) {
	v, err := Arg(args, i)
	if err != nil {
		return nil, err
	}
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, len(vals))
		for j, e := range vals {
			s, ok := e.(string)
			if !ok {
				return nil, InvalidArgument("argument %d[%d]: want string, got %T", i, j, e)
			}
			out[j] = s
		}
		return out, nil
	default:
		return nil, InvalidArgument("argument %d: want string list, got %T", i, v)
	}
}

// ArgDuration returns args[i] as a duration. Numbers are seconds.
func ArgDuration(args []any, i int) (time.Duration, error) {
	if i >= len(args) || args[i] == nil {
		return 0, nil
	}
	switch v := args[i].(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, InvalidArgument("argument %d: %v", i, err)
		}
		return d, nil
	}
	n, ok := toInt(args[i])
	if !ok {
		return 0, InvalidArgument("argument %d: want duration, got %T", i, args[i])
	}
	return time.Duration(n) * time.Second, nil
}

// ArgCode returns args[i] as an RPC code.
func ArgCode(args []any, i int) (message.Code, error) {
	v, err := Arg(args, i)
	if err != nil {
		return 0, err
	}
	if c, ok := v.(message.Code); ok {
		return c, nil
	}
	n, ok := toInt(v)
	if !ok {
		return 0, InvalidArgument("argument %d: want rpc code, got %T", i, v)
	}
	return message.Code(n), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// argTuple normalizes one BULK entry into an argument list.
func argTuple(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: bulk entry: want argument list, got %T", ErrInvalidArgument, v)
	}
}
