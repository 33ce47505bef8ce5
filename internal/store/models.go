package store

import "time"

// AvailabilityStatus records the last observed availability of an item's
// external reference.
type AvailabilityStatus string

const (
	StatusActive  AvailabilityStatus = "Active"
	StatusStale   AvailabilityStatus = "Stale"
	StatusUnknown AvailabilityStatus = "Unknown"
)

// Item is a content entry owned by the external CRUD layer. The pipeline
// mutates only CoverPath, Status and LastChecked.
type Item struct {
	ID            int64
	Title         string
	SourceURI     string
	Fingerprint   string
	BodyMarkdown  string
	CoverURL      *string
	CoverPath     *string
	Tags          []string
	CategoryID    int64
	PublisherHash string
	Status        AvailabilityStatus
	LastChecked   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	PublishedAt   time.Time
	TakedownAt    *time.Time
}

// Category is a node in the category tree. RootID names the tree; ParentID is
// nil for roots.
type Category struct {
	ID        int64
	RootID    int64
	ParentID  *int64
	Name      string
	Slug      string
	SortOrder int
}

// Publisher maps an opaque owner credential hash to a public display name.
type Publisher struct {
	TokenHash   string
	DisplayName string
}

// BuildState is the persisted singleton driving build admission.
type BuildState struct {
	Dirty         bool       `json:"dirty"`
	Running       bool       `json:"running"`
	Reason        *string    `json:"reason"`
	MarkSeq       int64      `json:"-"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	LastCommit    *string    `json:"last_commit"`
	LastError     *string    `json:"last_error"`
}
