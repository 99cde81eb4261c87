// Package db owns the PostgreSQL schema used by the session and credential
// stores and applies it with golang-migrate.
package db
