package relay

import (
	"context"

	"github.com/dchirkin/lessonlive/internal/domain"
)

// Gate asks the lessons service the only two questions the relay needs:
// is this room a real session, and who owns it. It is the single external
// call in the relay and is always resolved before any room lock is taken.
type Gate interface {
	ValidateRoom(ctx context.Context, id domain.RoomID) (bool, error)
	SessionOwner(ctx context.Context, id domain.RoomID) (domain.ParticipantID, error)
}
