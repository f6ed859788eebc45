// Package memstore implements user.Repository in memory with hashicorp/go-memdb.
// It backs development servers and tests.
package memstore
