package domain

// RoomID is the opaque lesson/session identifier a room is keyed by.
// Rooms have no record of their own: a room exists exactly as long as
// at least one connection is attached under its id.
type RoomID string
