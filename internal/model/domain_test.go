package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/provisioner/internal/model"
)

func domainIn(o model.Ownership, e model.EmailState) model.CustomDomain {
	return model.CustomDomain{ID: "d1", UserID: "u1", Name: "acme.com", VerificationKey: "k", Ownership: o, Email: e}
}

func TestTransition(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		from    model.CustomDomain
		event   model.Event
		want    model.State
		wantErr error
	}{
		{"prove ownership", domainIn(model.OwnershipUnverified, model.EmailDisabled), model.EventOwnershipProven,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailDisabled}, nil},
		{"prove ownership twice", domainIn(model.OwnershipVerified, model.EmailDisabled), model.EventOwnershipProven,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailDisabled}, model.ErrNoChange},
		{"enable email", domainIn(model.OwnershipVerified, model.EmailDisabled), model.EventEmailEnabled,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailEnabledUnverified}, nil},
		{"enable email on unverified domain", domainIn(model.OwnershipUnverified, model.EmailDisabled), model.EventEmailEnabled,
			model.State{Ownership: model.OwnershipUnverified, Email: model.EmailDisabled}, model.ErrInvalidTransition},
		{"enable email twice", domainIn(model.OwnershipVerified, model.EmailEnabledVerified), model.EventEmailEnabled,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailEnabledVerified}, model.ErrNoChange},
		{"prove email", domainIn(model.OwnershipVerified, model.EmailEnabledUnverified), model.EventEmailProven,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailEnabledVerified}, nil},
		{"prove email before enabling", domainIn(model.OwnershipVerified, model.EmailDisabled), model.EventEmailProven,
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailDisabled}, model.ErrInvalidTransition},
		{"lose ownership demotes email", domainIn(model.OwnershipVerified, model.EmailEnabledVerified), model.EventOwnershipLost,
			model.State{Ownership: model.OwnershipUnverified, Email: model.EmailEnabledUnverified}, nil},
		{"lose ownership when unverified", domainIn(model.OwnershipUnverified, model.EmailDisabled), model.EventOwnershipLost,
			model.State{Ownership: model.OwnershipUnverified, Email: model.EmailDisabled}, model.ErrNoChange},
		{"unknown event", domainIn(model.OwnershipVerified, model.EmailDisabled), model.Event("x"),
			model.State{Ownership: model.OwnershipVerified, Email: model.EmailDisabled}, model.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := model.Transition(tt.from, tt.event, now)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, now, got.UpdatedAt)
			}
			assert.Equal(t, tt.want, got.State())
			assert.Equal(t, tt.from.VerificationKey, got.VerificationKey)
		})
	}
}

func TestTransitionEmailVerifiedImpliesOwnership(t *testing.T) {
	t.Parallel()

	now := time.Now()
	events := []model.Event{model.EventOwnershipProven, model.EventOwnershipLost, model.EventEmailEnabled, model.EventEmailProven}
	ownerships := []model.Ownership{model.OwnershipUnverified, model.OwnershipVerified}
	emails := []model.EmailState{model.EmailDisabled, model.EmailEnabledUnverified, model.EmailEnabledVerified}

	for _, o := range ownerships {
		for _, e := range emails {
			if e == model.EmailEnabledVerified && o != model.OwnershipVerified {
				continue // not a reachable starting state
			}
			for _, ev := range events {
				got, _ := model.Transition(domainIn(o, e), ev, now)
				if got.Email == model.EmailEnabledVerified {
					assert.Equal(t, model.OwnershipVerified, got.Ownership, "%s/%s + %s", o, e, ev)
				}
			}
		}
	}
}

func TestShortURLResolvable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Minute)

	assert.True(t, model.ShortURL{Active: true}.Resolvable(now))
	assert.True(t, model.ShortURL{Active: true, ExpiresAt: &future}.Resolvable(now))
	assert.False(t, model.ShortURL{Active: true, ExpiresAt: &past}.Resolvable(now))
	assert.False(t, model.ShortURL{Active: false}.Resolvable(now))
}
