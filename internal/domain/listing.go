package domain

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is a listing as reported by the feed, before deduplication.
type Candidate struct {
	SourceID string
	Title    string
	Price    string
	URL      string
	Location string
	ImageURL string
}

// ListingRecord is a listing admitted into the ledger. It is created once, at
// first sighting; only the notified flag changes afterwards.
type ListingRecord struct {
	ID       uuid.UUID
	SourceID string

	Title    string
	Price    string
	URL      string
	Location string
	ImageURL string

	TaskID   uuid.UUID
	RegionID uuid.UUID
	Region   string
	Term     string

	DiscoveredAt time.Time
	Notified     bool
	NotifiedAt   *time.Time
}

// AdmitRequest carries a candidate and the task context it was found under.
type AdmitRequest struct {
	Candidate Candidate
	TaskID    uuid.UUID
	RegionID  uuid.UUID
	Region    string
	Term      string
	At        time.Time
}

// AdmitResult reports whether a candidate was newly admitted. Record is the
// stored listing either way.
type AdmitResult struct {
	Admitted bool
	Record   ListingRecord
}
