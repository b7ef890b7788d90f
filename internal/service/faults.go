package service

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/verilians/VeriPharm-sub000/internal/repository"
)

// FaultKind names the failure classes of the reconciliation engine. Each kind
// has an explicit recovery policy instead of generic catch-and-rethrow:
//
//	FaultValidation        — user-correctable, operation never attempted
//	FaultStoreUnavailable  — transient store error (timeouts included)
//	FaultConstraint        — a dependent constraint rejected a completion write
//	FaultVersionConflict   — a concurrent actor persisted the audit first
//	FaultUnrecoverable     — anything surviving the fallback paths
type FaultKind string

const (
	FaultValidation       FaultKind = "ValidationFailed"
	FaultStoreUnavailable FaultKind = "StoreUnavailable"
	FaultConstraint       FaultKind = "TriggerConstraintViolation"
	FaultVersionConflict  FaultKind = "VersionConflict"
	FaultUnrecoverable    FaultKind = "Unrecoverable"
)

// Fault is a typed engine error carrying its failure class and the operation
// that produced it.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func newFault(kind FaultKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func validationFault(op, msg string) *Fault {
	return &Fault{Kind: FaultValidation, Op: op, Err: errors.New(msg)}
}

// FaultKindOf extracts the fault kind from an error chain; non-engine errors
// classify as unrecoverable.
func FaultKindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return FaultUnrecoverable
}

// IsValidation reports whether the error is user-correctable.
func IsValidation(err error) bool { return FaultKindOf(err) == FaultValidation }

// classifyStoreError maps a raw repository error to a fault kind. Requires
// gorm's TranslateError so driver constraint errors surface as gorm sentinels.
// Context deadline expiry counts as store unavailability: a timed-out store
// call is handled exactly like a failed one.
func classifyStoreError(op string, err error) *Fault {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrVersionConflict):
		return newFault(FaultVersionConflict, op, err)
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrCheckConstraintViolated):
		return newFault(FaultConstraint, op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newFault(FaultStoreUnavailable, op, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return newFault(FaultValidation, op, err)
	default:
		return newFault(FaultStoreUnavailable, op, err)
	}
}
