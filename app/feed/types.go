package feed

import "time"

// Metadata is the feed-level information extracted while parsing.
type Metadata struct {
	Title       string
	Link        string
	Description string
	Language    string
}

// Item is a single normalized feed entry.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt time.Time
	ContentHash string
}

// Text returns the richest textual representation of the item for
// scoring: extracted content when present, otherwise the description.
func (i Item) Text() string {
	if i.Content != "" {
		return i.Content
	}
	return i.Description
}
