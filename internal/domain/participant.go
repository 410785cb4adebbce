// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type ParticipantID string

// Role is the declared position of a participant inside a session.
// The lessons service remains the authority for ownership; the relay
// only trusts it for UI hints.
type Role string

const (
	RoleOwner       Role = "owner"
	RoleParticipant Role = "participant"
)

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName"`
	Role        Role          `json:"role"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(id ParticipantID, displayName string, role Role) (*Participant, error) {
	if len(displayName) == 0 {
		return nil, ErrDisplayNameEmpty
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if role != RoleOwner {
		role = RoleParticipant
	}
	return &Participant{ID: id, DisplayName: displayName, Role: role}, nil
}
