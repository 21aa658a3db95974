package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/auditcore/internal/audit"
	"github.com/roach88/auditcore/internal/data"
	"github.com/roach88/auditcore/internal/message"
	"github.com/roach88/auditcore/internal/netslot"
	"github.com/roach88/auditcore/internal/rpc"
	"github.com/roach88/auditcore/internal/store"
)

// registerHandlers binds every RPC code, in code order, and checks that
// none is missing.
func (o *Orchestrator) registerHandlers(r *rpc.Registry) error {
	handlers := []struct {
		code message.Code
		h    rpc.Handler
	}{
		{message.RPCBulk, rpc.BulkHandler(r)},

		{message.RPCCacheGet, o.cacheGet},
		{message.RPCCacheSet, o.cacheSet},
		{message.RPCCacheCheck, o.cacheCheck},
		{message.RPCCacheRemove, o.cacheRemove},

		{message.RPCDataAdd, o.dataAdd},
		{message.RPCDataRemove, o.dataRemove},
		{message.RPCDataCheck, o.dataCheck},
		{message.RPCDataGet, o.dataGet},
		{message.RPCDataGetMany, o.dataGetMany},
		{message.RPCDataKeys, o.dataKeys},
		{message.RPCDataCount, o.dataCount},

		{message.RPCStateAdd, o.stateAdd},
		{message.RPCStateRemove, o.stateRemove},
		{message.RPCStateCheck, o.stateCheck},
		{message.RPCStateGet, o.stateGet},
		{message.RPCStateKeys, o.stateKeys},

		{message.RPCRequestSlot, o.requestSlot},
		{message.RPCReleaseSlot, o.releaseSlot},
	}
	for _, e := range handlers {
		if err := r.Register(e.code, e.h); err != nil {
			return err
		}
	}
	return r.Validate()
}

// database returns the store of a running audit.
func (o *Orchestrator) database(name string) (store.Database, error) {
	a, err := o.audits.GetAudit(name)
	if err != nil {
		if errors.Is(err, audit.ErrAuditNotFound) {
			return nil, fmt.Errorf("%w: %w", rpc.ErrNotFound, err)
		}
		return nil, err
	}
	return a.Database(), nil
}

// Cache

func (o *Orchestrator) cacheGet(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	key, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	raw, ok, err := o.cache.Get(ctx, name, key)
	if err != nil || !ok {
		return nil, err
	}
	return raw, nil
}

func (o *Orchestrator) cacheSet(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	key, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	value, err := rpc.Arg(args, 1)
	if err != nil {
		return nil, err
	}
	ttl, err := rpc.ArgDuration(args, 2)
	if err != nil {
		return nil, err
	}
	if ttl < 0 {
		return nil, rpc.InvalidArgument("argument 2: negative ttl %s", ttl)
	}
	return nil, o.cache.Set(ctx, name, key, value, ttl)
}

func (o *Orchestrator) cacheCheck(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	key, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	return o.cache.Check(ctx, name, key)
}

func (o *Orchestrator) cacheRemove(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	key, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	return nil, o.cache.Remove(ctx, name, key)
}

// Data

func (o *Orchestrator) dataAdd(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	v, err := rpc.Arg(args, 0)
	if err != nil {
		return nil, err
	}
	d, ok := v.(data.Data)
	if !ok || d == nil {
		return nil, rpc.InvalidArgument("argument 0: want data object, got %T", v)
	}
	db, err := o.database(name)
	if err != nil {
		return nil, err
	}
	return db.Add(ctx, d)
}

func (o *Orchestrator) dataRemove(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	id, kind, db, err := o.identityArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.Remove(ctx, id, kind)
}

func (o *Orchestrator) dataCheck(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	id, kind, db, err := o.identityArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.HasKey(ctx, id, kind)
}

func (o *Orchestrator) dataGet(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	id, kind, db, err := o.identityArgs(name, args)
	if err != nil {
		return nil, err
	}
	rec, err := db.Get(ctx, id, kind)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec, nil
}

func (o *Orchestrator) dataGetMany(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	ids, err := rpc.ArgStrings(args, 0)
	if err != nil {
		return nil, err
	}
	db, err := o.database(name)
	if err != nil {
		return nil, err
	}
	return db.GetMany(ctx, ids)
}

func (o *Orchestrator) dataKeys(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	f, db, err := o.filterArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.Keys(ctx, f)
}

func (o *Orchestrator) dataCount(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	f, db, err := o.filterArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.Count(ctx, f)
}

func (o *Orchestrator) identityArgs(name string, args []any) (string, data.Kind, store.Database, error) {
	id, err := rpc.ArgString(args, 0)
	if err != nil {
		return "", 0, nil, err
	}
	kind, err := optionalArgKind(args, 1)
	if err != nil {
		return "", 0, nil, err
	}
	db, err := o.database(name)
	if err != nil {
		return "", 0, nil, err
	}
	return id, kind, db, nil
}

func (o *Orchestrator) filterArgs(name string, args []any) (store.Filter, store.Database, error) {
	kind, err := optionalArgKind(args, 0)
	if err != nil {
		return store.Filter{}, nil, err
	}
	subtype, err := optionalArgString(args, 1)
	if err != nil {
		return store.Filter{}, nil, err
	}
	f := store.Filter{Kind: kind, Subtype: subtype}
	if f.Subtype != "" && f.Kind == data.KindAny {
		return store.Filter{}, nil, fmt.Errorf("%w: %w", rpc.ErrInvalidArgument, store.ErrSubtypeWithoutKind)
	}
	db, err := o.database(name)
	if err != nil {
		return store.Filter{}, nil, err
	}
	return f, db, nil
}

// Plugin state

func (o *Orchestrator) stateAdd(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	plug, key, db, err := o.stateArgs(name, args)
	if err != nil {
		return nil, err
	}
	value, err := rpc.Arg(args, 2)
	if err != nil {
		return nil, err
	}
	return nil, db.StateAdd(ctx, plug, key, value)
}

func (o *Orchestrator) stateRemove(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	plug, key, db, err := o.stateArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.StateRemove(ctx, plug, key)
}

func (o *Orchestrator) stateCheck(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	plug, key, db, err := o.stateArgs(name, args)
	if err != nil {
		return nil, err
	}
	return db.StateCheck(ctx, plug, key)
}

func (o *Orchestrator) stateGet(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	plug, key, db, err := o.stateArgs(name, args)
	if err != nil {
		return nil, err
	}
	raw, ok, err := db.StateGet(ctx, plug, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, rpc.NotFound("state %s of %s", key, plug)
	}
	return raw, nil
}

func (o *Orchestrator) stateKeys(ctx context.Context, name string, args []any, _ map[string]any) (any, error) {
	plug, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	db, err := o.database(name)
	if err != nil {
		return nil, err
	}
	return db.StateKeys(ctx, plug)
}

func (o *Orchestrator) stateArgs(name string, args []any) (string, string, store.Database, error) {
	plug, err := rpc.ArgString(args, 0)
	if err != nil {
		return "", "", nil, err
	}
	key, err := rpc.ArgString(args, 1)
	if err != nil {
		return "", "", nil, err
	}
	db, err := o.database(name)
	if err != nil {
		return "", "", nil, err
	}
	return plug, key, db, nil
}

// Network slots

func (o *Orchestrator) requestSlot(_ context.Context, name string, args []any, _ map[string]any) (any, error) {
	host, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	g, err := o.slots.RequestSlot(name, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rpc.ErrInvalidArgument, err)
	}
	return g, nil
}

func (o *Orchestrator) releaseSlot(_ context.Context, name string, args []any, _ map[string]any) (any, error) {
	token, err := rpc.ArgString(args, 0)
	if err != nil {
		return nil, err
	}
	if err := o.slots.ReleaseSlot(name, token); err != nil {
		if errors.Is(err, netslot.ErrUnknownSlot) {
			return nil, fmt.Errorf("%w: %w", rpc.ErrNotFound, err)
		}
		return nil, err
	}
	return nil, nil
}

// optionalArgKind reads a data kind given as data.Kind, a number or a name.
// An absent argument means any kind.
func optionalArgKind(args []any, i int) (data.Kind, error) {
	if i >= len(args) || args[i] == nil {
		return data.KindAny, nil
	}
	switch v := args[i].(type) {
	case data.Kind:
		return v, nil
	case string:
		k, err := data.ParseKind(v)
		if err != nil {
			return data.KindAny, rpc.InvalidArgument("argument %d: %v", i, err)
		}
		return k, nil
	}
	n, err := rpc.ArgInt(args, i)
	if err != nil {
		return data.KindAny, err
	}
	k := data.Kind(n)
	if k < data.KindAny || k > data.KindVulnerability {
		return data.KindAny, rpc.InvalidArgument("argument %d: unknown data kind %d", i, n)
	}
	return k, nil
}

func optionalArgString(args []any, i int) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return rpc.ArgString(args, i)
}
