package notify

import (
	"time"

	"github.com/dalexandrias/marketwatch/internal/domain"
)

// Payload is the JSON document published by the file, webhook and redis
// sinks.
type Payload struct {
	ListingID    string `json:"listing_id"`
	SourceID     string `json:"source_id"`
	Title        string `json:"title"`
	Price        string `json:"price,omitempty"`
	URL          string `json:"url"`
	Location     string `json:"location,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
	Term         string `json:"term"`
	Region       string `json:"region"`
	DiscoveredAt string `json:"discovered_at"`
}

func NewPayload(l domain.ListingRecord) Payload {
	return Payload{
		ListingID:    l.ID.String(),
		SourceID:     l.SourceID,
		Title:        l.Title,
		Price:        l.Price,
		URL:          l.URL,
		Location:     l.Location,
		ImageURL:     l.ImageURL,
		Term:         l.Term,
		Region:       l.Region,
		DiscoveredAt: l.DiscoveredAt.UTC().Format(time.RFC3339),
	}
}
