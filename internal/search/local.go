package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const snippetWords = 24

// Local is an in-process index over the loaded documents. Matching is
// accent- and case-insensitive; every query term must appear in the title or
// the text.
type Local struct {
	mu      sync.RWMutex
	records map[string]localRecord
}

type localRecord struct {
	Record
	title string
	body  string
}

func NewLocal() *Local {
	return &Local{records: make(map[string]localRecord)}
}

func (l *Local) Healthy() bool { return true }

func (l *Local) Index(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[rec.ID] = localRecord{Record: rec, title: fold(rec.Title), body: fold(rec.Text)}
}

// Replace swaps the whole index for recs.
func (l *Local) Replace(recs []Record) {
	next := make(map[string]localRecord, len(recs))
	for _, rec := range recs {
		next[rec.ID] = localRecord{Record: rec, title: fold(rec.Title), body: fold(rec.Text)}
	}
	l.mu.Lock()
	l.records = next
	l.mu.Unlock()
}

func (l *Local) Delete(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, id)
}

func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Search ranks title matches above body matches, then newer documents first.
func (l *Local) Search(_ context.Context, q Query) ([]Result, int, error) {
	terms := strings.Fields(fold(q.Text))
	if len(terms) == 0 {
		return nil, 0, nil
	}

	type scored struct {
		rec   localRecord
		score int
	}
	l.mu.RLock()
	hits := make([]scored, 0)
	for _, rec := range l.records {
		score := 0
		matched := true
		for _, term := range terms {
			inTitle := strings.Contains(rec.title, term)
			inBody := strings.Contains(rec.body, term)
			if !inTitle && !inBody {
				matched = false
				break
			}
			if inTitle {
				score += 3
			}
			if inBody {
				score++
			}
		}
		if matched {
			hits = append(hits, scored{rec: rec, score: score})
		}
	}
	l.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if !hits[i].rec.LastModified.Equal(hits[j].rec.LastModified) {
			return hits[i].rec.LastModified.After(hits[j].rec.LastModified)
		}
		return hits[i].rec.ID < hits[j].rec.ID
	})

	total := len(hits)
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + q.limit()
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, hit := range hits[start:end] {
		results = append(results, Result{
			ID:           hit.rec.ID,
			Title:        hit.rec.Title,
			Snippet:      snippet(hit.rec.Text, terms),
			LastModified: hit.rec.LastModified,
		})
	}
	return results, total, nil
}

// fold lowercases s and strips combining marks so "Café" matches "cafe".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), cases.Fold(), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// snippet returns a window of words around the first term hit.
func snippet(text string, terms []string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	first := 0
search:
	for i, word := range words {
		folded := fold(word)
		for _, term := range terms {
			if strings.Contains(folded, term) {
				first = i
				break search
			}
		}
	}

	start := first - snippetWords/3
	if start < 0 {
		start = 0
	}
	end := start + snippetWords
	if end > len(words) {
		end = len(words)
	}
	out := strings.Join(words[start:end], " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(words) {
		out += "…"
	}
	return out
}
