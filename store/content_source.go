package store

// ContentSource is an append-only record of one submission of a URL:
// who shared it, through which channel, and the raw URL as submitted.
// Rows are never mutated after insert.
type ContentSource struct {
	ID        int64
	ContentID int64
	SharedBy  string
	Channel   string
	RawURL    string
	Note      string
	CreatedTs int64
}

// CreateContentSource holds the fields for recording a submission.
type CreateContentSource struct {
	ContentID int64
	SharedBy  string
	Channel   string
	RawURL    string
	Note      string
}

// FindContentSource filters submission listings.
type FindContentSource struct {
	ContentID *int64
	Limit     *int
}
