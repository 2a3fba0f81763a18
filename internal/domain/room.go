package domain

type RoomID string

// Room is the membership/access record owned by the room collaborator.
// The last-known fields are the durable snapshot written by the flush path;
// they are nullable in storage so a never-flushed room reads back as empty.
type Room struct {
	ID              RoomID
	OwnerID         UserID
	IsPublic        bool
	Members         []Membership
	LastKnownCode   *string
	LastKnownInput  *string
	LastKnownOutput *string
}

// Membership is one explicit member row of a room.
type Membership struct {
	UserID UserID
}

// HasMember reports whether uid has an explicit membership row.
func (r *Room) HasMember(uid UserID) bool {
	for _, m := range r.Members {
		if m.UserID == uid {
			return true
		}
	}
	return false
}
