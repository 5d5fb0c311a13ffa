// Package timeouts defines shared timeout constants used across the sync
// service, its commands and the presentation servers.
package timeouts

import "time"

// RemoteCall caps a single ledger read (eth_call, eth_getLogs, balance).
const RemoteCall = 10 * time.Second

// Receipt caps the wait for a submitted transaction to be mined.
const Receipt = 2 * time.Minute

// Dial caps the wait time when dialing the ledger RPC endpoint.
const Dial = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// WebsocketWrite bounds one websocket frame write to a browser client.
const WebsocketWrite = 10 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// StorageWrite bounds one write to the local ledger cache.
const StorageWrite = 5 * time.Second

// HealthProbe bounds a -healthcheck invocation.
const HealthProbe = 3 * time.Second
