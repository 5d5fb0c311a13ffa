// Package sqlite implements the game storage interfaces on SQLite.
//
// One database file holds the last snapshot per account, the tile cache
// per contract, and the activity journal. Migrations are embedded and
// applied on Open.
package sqlite
