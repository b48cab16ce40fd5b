package model

import (
	"errors"
	"fmt"
	"time"
)

// Ownership is the proof-of-control state of a custom domain.
type Ownership string

const (
	OwnershipUnverified Ownership = "unverified"
	OwnershipVerified   Ownership = "verified"
)

// EmailState is the inbound email service state of a custom domain.
type EmailState string

const (
	EmailDisabled          EmailState = "disabled"
	EmailEnabledUnverified EmailState = "enabled_unverified"
	EmailEnabledVerified   EmailState = "enabled_verified"
)

// CustomDomain is a user-owned domain attached to the service.
type CustomDomain struct {
	ID              string
	UserID          string
	Name            string
	VerificationKey string
	Ownership       Ownership
	Email           EmailState
	VerifiedAt      *time.Time
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Verified reports whether ownership has been proven.
func (d CustomDomain) Verified() bool { return d.Ownership == OwnershipVerified }

// State is the compare-and-swap guard for a domain update.
type State struct {
	Ownership Ownership
	Email     EmailState
}

// State returns the current pair of states.
func (d CustomDomain) State() State { return State{Ownership: d.Ownership, Email: d.Email} }

// Event drives a domain transition.
type Event string

const (
	EventOwnershipProven Event = "ownership_proven"
	EventOwnershipLost   Event = "ownership_lost"
	EventEmailEnabled    Event = "email_enabled"
	EventEmailProven     Event = "email_proven"
)

var (
	// ErrNoChange means the domain is already in the event's target state.
	ErrNoChange = errors.New("model: domain already in target state")
	// ErrInvalidTransition means the event is not allowed from the current state.
	ErrInvalidTransition = errors.New("model: invalid domain state transition")
)

// Transition computes the domain after ev. It is the only place domain
// states change. Stores persist the result guarded by d.State().
func Transition(d CustomDomain, ev Event, now time.Time) (CustomDomain, error) {
	next := d
	switch ev {
	case EventOwnershipProven:
		if d.Ownership == OwnershipVerified {
			return d, ErrNoChange
		}
		next.Ownership = OwnershipVerified
		next.VerifiedAt = &now

	case EventOwnershipLost:
		if d.Ownership == OwnershipUnverified {
			return d, ErrNoChange
		}
		next.Ownership = OwnershipUnverified
		next.VerifiedAt = nil
		if d.Email == EmailEnabledVerified {
			next.Email = EmailEnabledUnverified
			next.EmailVerifiedAt = nil
		}

	case EventEmailEnabled:
		if d.Ownership != OwnershipVerified {
			return d, fmt.Errorf("%w: email requires a verified domain", ErrInvalidTransition)
		}
		if d.Email != EmailDisabled {
			return d, ErrNoChange
		}
		next.Email = EmailEnabledUnverified

	case EventEmailProven:
		if d.Ownership != OwnershipVerified {
			return d, fmt.Errorf("%w: email requires a verified domain", ErrInvalidTransition)
		}
		switch d.Email {
		case EmailEnabledVerified:
			return d, ErrNoChange
		case EmailDisabled:
			return d, fmt.Errorf("%w: email service is not enabled", ErrInvalidTransition)
		}
		next.Email = EmailEnabledVerified
		next.EmailVerifiedAt = &now

	default:
		return d, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}

	next.UpdatedAt = now
	return next, nil
}
