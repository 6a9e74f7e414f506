// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a uniqueness or consistency violation reported by storage.
var ErrConflict = errors.New("conflict: record violates a storage constraint")

// ErrValidation indicates caller input failed validation.
var ErrValidation = errors.New("validation failed")

// ErrNoParticipant indicates the (experiment, participant) pair is not an active participation.
var ErrNoParticipant = errors.New("no active participant")
