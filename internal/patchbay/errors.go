/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package patchbay

import (
	"errors"
	"fmt"
)

// Kind classifies an Error returned by the core.
type Kind int

const (
	_ Kind = iota
	KindNotFound
	KindDuplicate
	KindTypeMismatch
	KindWrongDirection
	KindLocked
	KindWouldCycle
	KindInvalidState
	KindOverrun
	KindClientLost
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindTypeMismatch:
		return "type_mismatch"
	case KindWrongDirection:
		return "wrong_direction"
	case KindLocked:
		return "locked"
	case KindWouldCycle:
		return "would_cycle"
	case KindInvalidState:
		return "invalid_state"
	case KindOverrun:
		return "overrun"
	case KindClientLost:
		return "client_lost"
	default:
		return "unknown"
	}
}

// Sentinel errors, comparable with errors.Is against any *Error of the
// matching Kind.
var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrDuplicate     = &Error{Kind: KindDuplicate}
	ErrTypeMismatch  = &Error{Kind: KindTypeMismatch}
	ErrWrongDirection = &Error{Kind: KindWrongDirection}
	ErrLocked        = &Error{Kind: KindLocked}
	ErrWouldCycle    = &Error{Kind: KindWouldCycle}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrOverrun       = &Error{Kind: KindOverrun}
	ErrClientLost    = &Error{Kind: KindClientLost}
)

// Error wraps an operation name and an underlying cause with a Kind so
// callers can branch with errors.Is/errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes *Error comparable by Kind alone, so errors.Is(err, patchbay.ErrNotFound)
// matches any *Error with KindNotFound regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds an *Error for op/kind, optionally wrapping cause.
func NewError(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
