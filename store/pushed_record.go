package store

// PushedRecord is one successful push of a content to a target.
// (ContentID, TargetID) is unique and acts as the second dedup barrier
// behind the queue item state machine. Rows are append-only.
type PushedRecord struct {
	ID             int64
	ContentID      int64
	TargetPlatform string
	TargetID       string
	MessageID      string
	Status         string
	PushedTs       int64
}

// PushStatusSuccess is the only status written by the distributor; the
// column exists for forward compatibility with partial-failure records.
const PushStatusSuccess = "success"

// CreatePushedRecord holds the fields for recording a successful push.
type CreatePushedRecord struct {
	ContentID      int64
	TargetPlatform string
	TargetID       string
	MessageID      string
	Status         string
}

// FindPushedRecord filters pushed record listings.
type FindPushedRecord struct {
	ContentID *int64
	TargetID  *string
	Limit     *int
}
