package revocation

import (
	"context"
	"time"
)

// Record is a user's revocation state.
//
// TokensValidAfterTime is the cutoff in Unix seconds: a credential whose
// auth_time is strictly before it is no longer valid. nil means the user
// has never been revoked. The other two fields are informational.
type Record struct {
	UserID                string
	TokensValidAfterTime  *int64
	SessionRevokedAt      *time.Time
	LastSessionRevocation *string
}

// Cutoff returns the cutoff and whether one is set.
func (r Record) Cutoff() (int64, bool) {
	if r.TokensValidAfterTime == nil {
		return 0, false
	}
	return *r.TokensValidAfterTime, true
}

// Update is a partial write; nil fields are left alone.
type Update struct {
	TokensValidAfterTime  *int64
	SessionRevokedAt      *time.Time
	LastSessionRevocation *string
}

// UpdateAt builds the full update the Issuer writes for a revocation at t.
func UpdateAt(t time.Time) Update {
	t = t.UTC()
	cut := t.Unix()
	iso := t.Format(time.RFC3339)
	return Update{
		TokensValidAfterTime:  &cut,
		SessionRevokedAt:      &t,
		LastSessionRevocation: &iso,
	}
}

// RecordStore persists Records.
//
// Write never lowers TokensValidAfterTime; a smaller value than the stored one
// is ignored. The informational fields only move forward together with
// SessionRevokedAt.
type RecordStore interface {
	Read(ctx context.Context, userID string) (Record, error)
	Write(ctx context.Context, userID string, u Update) error
}

// apply merges u into r under the monotonic rules shared by all stores.
func apply(r Record, u Update) Record {
	if u.TokensValidAfterTime != nil {
		if r.TokensValidAfterTime == nil || *u.TokensValidAfterTime > *r.TokensValidAfterTime {
			v := *u.TokensValidAfterTime
			r.TokensValidAfterTime = &v
		}
	}
	if u.SessionRevokedAt != nil {
		if r.SessionRevokedAt == nil || !u.SessionRevokedAt.Before(*r.SessionRevokedAt) {
			t := *u.SessionRevokedAt
			r.SessionRevokedAt = &t
			if u.LastSessionRevocation != nil {
				s := *u.LastSessionRevocation
				r.LastSessionRevocation = &s
			}
		}
	} else if u.LastSessionRevocation != nil && r.LastSessionRevocation == nil {
		s := *u.LastSessionRevocation
		r.LastSessionRevocation = &s
	}
	return r
}
