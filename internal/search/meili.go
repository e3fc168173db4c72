package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/sirupsen/logrus"
)

const (
	idxDocuments = "noteforge_documents"

	healthInterval = 10 * time.Second
)

var errMeiliUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     logrus.FieldLogger
	healthy atomic.Bool
	done    chan struct{}
	closed  atomic.Bool
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not an error; the client keeps probing and the
// service falls back to the local index meanwhile.
func NewMeili(url, apiKey string, log logrus.FieldLogger) *Meili {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log.WithField("component", "meilisearch"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxDocuments,
		PrimaryKey: "id",
	}); err != nil {
		m.log.WithError(err).Debug("create index (may already exist)")
	}

	index := m.client.Index(idxDocuments)
	searchable := []string{"title", "text"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warn("update searchable attributes")
	}
	sortable := []string{"lastModified"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.log.WithError(err).Warn("update sortable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	if m.closed.CompareAndSwap(false, true) {
		close(m.done)
	}
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errMeiliUnhealthy
	}

	resp, err := m.client.Index(idxDocuments).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(q.limit()),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title"},
		AttributesToCrop:      []string{"text"},
		CropLength:            snippetWords,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, err
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:      decodeString(hit, "id"),
		Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "text"), decodeString(hit, "text")),
	}
	if raw := decodeString(hit, "lastModified"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			r.LastModified = ts
		}
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or replaces documents in the search index.
func (m *Meili) Index(recs ...Record) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxDocuments).AddDocuments(recs, nil)
	return err
}

// Delete removes a document from the search index.
func (m *Meili) Delete(id string) error {
	_, err := m.client.Index(idxDocuments).DeleteDocument(id, nil)
	return err
}
