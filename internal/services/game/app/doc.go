// Package server composes the game sync service.
//
// It dials the ledger, resolves the wallet account, and wires the
// reconciliation engine to its observers: the activity journal, the local
// ledger cache, the terminal presenter, the web stream and the gRPC health
// status. Account changes reported by the wallet move the engine to the new
// account.
package server
