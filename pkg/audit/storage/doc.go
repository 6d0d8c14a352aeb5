// Package storage provides audit.Storage backends: an in-memory map for
// tests and a SQLite database (mattn/go-sqlite3) for durable audit trails.
package storage
