// Package storage holds the connection settings shared by the PostgreSQL
// connection manager and the Redis client in storage/postgres.
package storage
