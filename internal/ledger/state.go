package ledger

import (
	"time"
)

// Credential is a provider token together with its monthly quota counters.
type Credential struct {
	Token        string     `json:"token"`
	Label        string     `json:"label,omitempty"`
	MonthlyLimit int        `json:"monthly_limit"`
	Used         int        `json:"used"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// Eligible reports whether the credential may be handed out for a new request.
func (c Credential) Eligible() bool {
	return c.Active && c.Used < c.MonthlyLimit
}

// Remaining returns the headroom left this period, never negative.
func (c Credential) Remaining() int {
	if c.Used >= c.MonthlyLimit {
		return 0
	}
	return c.MonthlyLimit - c.Used
}

// RotationState is the full persisted ledger: the ordered credential sequence
// plus the cursor the next selection scan starts from.
//
// Cursor is always a valid index into Credentials, or 0 when it is empty.
type RotationState struct {
	Credentials []Credential `json:"credentials"`
	Cursor      int          `json:"cursor"`
}

// Clone returns a deep copy so callers can't alias store-owned slices.
func (s RotationState) Clone() RotationState {
	out := RotationState{
		Credentials: make([]Credential, len(s.Credentials)),
		Cursor:      s.Cursor,
	}
	for i, c := range s.Credentials {
		if c.LastUsedAt != nil {
			t := *c.LastUsedAt
			c.LastUsedAt = &t
		}
		out.Credentials[i] = c
	}
	return out
}

func (s *RotationState) indexOf(token string) int {
	for i := range s.Credentials {
		if s.Credentials[i].Token == token {
			return i
		}
	}
	return -1
}

// normalize clamps the cursor back into range. States read from storage may
// have been written by older code or edited by hand.
func (s *RotationState) normalize() {
	if len(s.Credentials) == 0 || s.Cursor < 0 || s.Cursor >= len(s.Credentials) {
		s.Cursor = 0
	}
}

// Usage is the reporting view of one credential.
type Usage struct {
	Token      string     `json:"token"`
	Label      string     `json:"label,omitempty"`
	Used       int        `json:"used"`
	Limit      int        `json:"limit"`
	Remaining  int        `json:"remaining"`
	Active     bool       `json:"active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// CredentialUpdate carries optional administrative changes. Nil fields are left alone.
type CredentialUpdate struct {
	Active       *bool
	MonthlyLimit *int
	Label        *string
}
