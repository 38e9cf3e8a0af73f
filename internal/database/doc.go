// Package database provides the PostgreSQL connection pool for the
// alert journal.
package database
