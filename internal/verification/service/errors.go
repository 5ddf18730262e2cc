package service

import (
	"errors"

	"github.com/jmerrifield20/domainverify/internal/verification/model"
)

// Sentinel errors for the domain verification service.
var (
	ErrVerificationNotFound  = errors.New("domain verification not found")
	ErrInvalidTransition     = errors.New("invalid domain verification transition")
	ErrDuplicateVerification = errors.New("domain verification already exists")
	ErrInvalidDomain         = errors.New("domain must not be empty")
)

// InvalidTransitionError is returned when an operation is not allowed in the
// verification's current state. Its message tells the user what to do instead.
type InvalidTransitionError struct {
	Status    model.VerificationStatus
	Tombstone bool
	Remedy    string
}

func (e *InvalidTransitionError) Error() string { return e.Remedy }

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// DuplicateVerificationError is returned when creating a verification for a
// domain that already has an active one in the organization.
type DuplicateVerificationError struct {
	// Existing is nil when the conflict was only detected by the store.
	Existing *model.DomainVerification
	Message  string
}

func (e *DuplicateVerificationError) Error() string { return e.Message }

func (e *DuplicateVerificationError) Unwrap() error { return ErrDuplicateVerification }
