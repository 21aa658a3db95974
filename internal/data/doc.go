// Package data defines the objects plugins produce during an audit.
//
// Every object has a content-derived identity, a kind (information,
// resource or vulnerability), a subtype, links to other objects by identity,
// and optionally a list of sub-resources it discovered. The orchestrator
// never mutates data; it only routes, stores and deduplicates it.
//
// Identities are SHA-256 over RFC 8785 canonical JSON with NFC-normalized
// strings and a versioned domain prefix, so the same object produced by two
// plugins always collapses to one database entry.
package data
