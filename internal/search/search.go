package search

import (
	"context"
	"time"

	"noteforge/api/internal/store"
)

const DefaultLimit = 20

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	LastModified time.Time `json:"lastModified"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data we index for a document.
type Record struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Text         string    `json:"text"`
	LastModified time.Time `json:"lastModified"`
}

func RecordFrom(doc store.Document) Record {
	return Record{
		ID:           doc.ID,
		Title:        doc.Title,
		Text:         doc.Text,
		LastModified: doc.LastModified,
	}
}

func RecordsFrom(docs []store.Document) []Record {
	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		out = append(out, RecordFrom(doc))
	}
	return out
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}
