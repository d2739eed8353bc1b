// Package storage provides the durable backends for the follower ledger.
//
// Every backend stores a complete snapshot and replaces it wholesale on Save;
// there are no incremental writes. Drivers:
//   - "file":   a single JSON document (default)
//   - "sqlite": a SQLite database file
package storage
