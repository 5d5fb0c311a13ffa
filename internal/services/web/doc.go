// Package web exposes the synced game state over HTTP.
//
// Reads come from the reconciliation engine and, when the engine has nothing
// yet, from the local ledger cache. Commands are forwarded to the chain
// gateway and followed by a forced refresh; the websocket stream pushes every
// changed snapshot and new activity entry to connected browsers.
package web
