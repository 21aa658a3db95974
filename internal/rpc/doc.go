// Package rpc dispatches plugin calls into the orchestrator's shared
// services (data store, plugin state, cache, network slots).
//
// Every RPC code maps to exactly one Handler in a Registry. The registry is
// filled once at startup and checked with Validate so that a missing
// handler fails loudly before any audit runs.
//
// Dispatcher.Execute never lets a handler failure escape: handler errors,
// handler panics and unknown codes all become a failed Response. Only
// failures of the dispatcher itself are returned to the caller.
package rpc
