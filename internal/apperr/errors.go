// Package apperr holds sentinel errors shared across layers.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid suggestion transition")
	ErrUnavailable       = errors.New("service unavailable")
	ErrCancelled         = errors.New("operation cancelled")
)
