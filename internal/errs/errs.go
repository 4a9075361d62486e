// Package errs defines the error kinds from the RobustMQ error-handling
// design (§7): Protocol, Authentication, Authorization, NotFound,
// AlreadyExists, PreconditionFailed, Backpressure, Unavailable, Internal.
//
// Every error kind is a sentinel wrapped with context via %w so callers can
// use errors.Is to branch on kind while still getting a readable message,
// the way the teacher's tempodb/backend package defines ErrMetaDoesNotExist
// and friggdb callers compare against it directly.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Protocol
	Authentication
	Authorization
	NotFound
	AlreadyExists
	PreconditionFailed
	Backpressure
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case PreconditionFailed:
		return "precondition_failed"
	case Backpressure:
		return "backpressure"
	case Unavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// sentinel errors, one per kind, used as the %w target for errors.Is.
var (
	ErrInternal           = errors.New("internal")
	ErrProtocol           = errors.New("protocol")
	ErrAuthentication     = errors.New("authentication")
	ErrAuthorization      = errors.New("authorization")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBackpressure       = errors.New("backpressure")
	ErrUnavailable        = errors.New("unavailable")
)

func sentinelFor(k Kind) error {
	switch k {
	case Protocol:
		return ErrProtocol
	case Authentication:
		return ErrAuthentication
	case Authorization:
		return ErrAuthorization
	case NotFound:
		return ErrNotFound
	case AlreadyExists:
		return ErrAlreadyExists
	case PreconditionFailed:
		return ErrPreconditionFailed
	case Backpressure:
		return ErrBackpressure
	case Unavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

// New wraps msg with the sentinel for kind so errors.Is(err, errs.ErrX) works.
func New(k Kind, msg string) error {
	return fmt.Errorf("%s: %w", msg, sentinelFor(k))
}

// Wrap attaches kind's sentinel to an existing error.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", sentinelFor(k), err.Error())
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	return errors.Is(err, sentinelFor(k))
}

// Retryable reports whether the caller should retry per §7: only
// Unavailable is retried with bounded exponential backoff.
func Retryable(err error) bool {
	return Is(err, Unavailable)
}
