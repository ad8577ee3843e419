// Package store holds persistence abstractions shared by the concrete
// database implementations: the DBTX interface that lets store code run
// against either a connection or a transaction, transaction helpers, and
// the common error vocabulary.
package store
