package domain

// Snapshot is the flattened projection of a room document: the three
// collaborative fields rendered to plain strings. It is what the cache and
// the durable record store.
type Snapshot struct {
	RoomID RoomID
	Code   string
	Input  string
	Output string
}
