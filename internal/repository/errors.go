// Package repository defines the document store the reservation service
// persists to, and the sentinel errors shared by every implementation.
// Higher layers translate these into domain errors; handlers never see
// them directly.
package repository

import "errors"

// ErrNotFound is returned when no reservation with the requested ID
// exists.
var ErrNotFound = errors.New("reservation not found")

// ErrTxConflict is returned by RunInTx when the transaction could not be
// committed because data it read was changed by a concurrent commit (or
// the engine aborted it as a deadlock victim).  Nothing was written; the
// caller may retry with a fresh transaction.
var ErrTxConflict = errors.New("transaction conflict")

// ErrDuplicateID is returned when an insert reuses an existing ID.
var ErrDuplicateID = errors.New("duplicate reservation id")
