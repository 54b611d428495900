package search

import (
	"context"
	"log/slog"

	"altan/workspace/internal/bases"
)

// Service is the facade that tries Meilisearch first and falls back in order
// through the remaining searchers.
type Service struct {
	meili     *Meili
	fallbacks []namedSearcher
	logger    *slog.Logger
}

type namedSearcher struct {
	source   Source
	searcher Searcher
}

// NewService creates a search service. meili and pg may be nil; cache is required.
func NewService(meili *Meili, pg *Postgres, cache *CacheScan, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{meili: meili, logger: logger}
	if pg != nil {
		s.fallbacks = append(s.fallbacks, namedSearcher{SourcePostgres, pg})
	}
	s.fallbacks = append(s.fallbacks, namedSearcher{SourceCache, cache})
	return s
}

// Search never fails: a backend error moves on to the next backend and the
// last resort answers with an empty result.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		s.logger.Warn("meilisearch error, falling back", "error", err)
	}

	for _, fb := range s.fallbacks {
		results, total, err := fb.searcher.Search(ctx, q)
		if err != nil {
			s.logger.Warn("search backend error", "source", fb.source, "error", err)
			continue
		}
		return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: fb.source}
	}
	return Response{Results: []Result{}, Query: q.Text, Source: SourceCache}
}

// IndexRecords pushes records to Meilisearch when it is up. Without an index the
// fallbacks read the records directly, so there is nothing to do.
func (s *Service) IndexRecords(_ context.Context, tableID string, records []bases.Record) error {
	if s.meili == nil || !s.meili.Healthy() {
		return nil
	}
	return s.meili.IndexRecords(tableID, records)
}

func (s *Service) DeleteRecords(_ context.Context, tableID string, ids []string) error {
	if s.meili == nil || !s.meili.Healthy() || len(ids) == 0 {
		return nil
	}
	return s.meili.DeleteRecords(tableID, ids)
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
