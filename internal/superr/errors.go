// Package superr defines the supervisor's error taxonomy (spec §7). Each
// public operation returns one of these typed errors so that transport
// adapters (CLI, future HTTP front-end) can map them to exit codes or status
// codes without string-matching error text.
package superr

import (
	"errors"
	"fmt"
)

// ValidationError signals a caller-supplied request failed input validation
// before any worker or registry state was touched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: field %q: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError signals a lookup against the Worker or Replica Registry
// found no matching entry.
type NotFoundError struct {
	Kind string // "worker", "model", "replica"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// PlacementError signals the Placement Selector found no eligible worker for
// a launch request.
type PlacementError struct {
	Reason string
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("placement: %s", e.Reason)
}

// NewPlacement builds a PlacementError.
func NewPlacement(reason string) error {
	return &PlacementError{Reason: reason}
}

// WorkerRPCError wraps a failure returned by a remote worker call, keeping
// the worker address and method name alongside the underlying transport or
// application error so callers can decide whether to roll back.
type WorkerRPCError struct {
	Address string
	Method  string
	Err     error
}

func (e *WorkerRPCError) Error() string {
	return fmt.Sprintf("worker rpc %s@%s: %v", e.Method, e.Address, e.Err)
}

func (e *WorkerRPCError) Unwrap() error { return e.Err }

// NewWorkerRPC builds a WorkerRPCError.
func NewWorkerRPC(address, method string, err error) error {
	return &WorkerRPCError{Address: address, Method: method, Err: err}
}

// AlreadyExistsError signals an attempt to create a registry entry (worker,
// replica info) that is already present.
type AlreadyExistsError struct {
	Kind string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.Key)
}

// NewAlreadyExists builds an AlreadyExistsError.
func NewAlreadyExists(kind, key string) error {
	return &AlreadyExistsError{Kind: kind, Key: key}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsWorkerRPC reports whether err is (or wraps) a WorkerRPCError.
func IsWorkerRPC(err error) bool {
	var we *WorkerRPCError
	return errors.As(err, &we)
}
