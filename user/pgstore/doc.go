// Package pgstore implements user.Repository on PostgreSQL with pgx, building
// queries with squirrel. The schema is applied from embedded migrations by
// Driver.Initialize.
package pgstore
