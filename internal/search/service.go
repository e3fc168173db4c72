package search

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Service is the facade that tries Meilisearch first and falls back to the
// local index, which is always kept current.
type Service struct {
	meili *Meili
	local *Local
	log   logrus.FieldLogger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, log logrus.FieldLogger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{meili: meili, local: NewLocal(), log: log.WithField("component", "search")}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.WithError(err).Warn("meilisearch error, falling back to local index")
	}

	results, total, err := s.local.Search(ctx, q)
	if err != nil {
		s.log.WithError(err).Error("local search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// Index updates the local index and pushes to Meilisearch in the background.
func (s *Service) Index(rec Record) {
	s.local.Index(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(rec); err != nil {
			s.log.WithError(err).WithField("document_id", rec.ID).Warn("index document")
		}
	}()
}

func (s *Service) Delete(id string) {
	s.local.Delete(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Delete(id); err != nil {
			s.log.WithError(err).WithField("document_id", id).Warn("delete document from index")
		}
	}()
}

// ReindexAll rebuilds the local index from recs and bulk-pushes them to
// Meilisearch. Called once after documents are loaded.
func (s *Service) ReindexAll(recs []Record) {
	s.local.Replace(recs)
	if s.meili == nil || !s.meili.Healthy() || len(recs) == 0 {
		return
	}
	if err := s.meili.Index(recs...); err != nil {
		s.log.WithError(err).Warn("reindex documents")
	}
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
