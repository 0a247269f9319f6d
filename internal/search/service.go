package search

import (
	"context"

	"github.com/rs/zerolog"
)

// RecordLoader supplies every searchable row for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ItemRecord, []MessageRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Indexer
	fallback Searcher
	loader   RecordLoader
	logger   zerolog.Logger
	spawn    func(func())
}

// NewService creates a search service. primary must be a nil interface when
// Meilisearch is not configured.
func NewService(primary Indexer, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{primary: primary, logger: logger, spawn: func(fn func()) { go fn() }}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search never fails: errors are logged and produce an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Int64("project_id", q.ProjectID).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItem pushes an item to Meilisearch without blocking the request.
func (s *Service) IndexItem(item ItemRecord) {
	if !s.primaryReady() {
		return
	}
	s.spawn(func() {
		if err := s.primary.IndexItems([]ItemRecord{item}); err != nil {
			s.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("index item")
		}
	})
}

func (s *Service) IndexMessage(msg MessageRecord) {
	if !s.primaryReady() {
		return
	}
	s.spawn(func() {
		if err := s.primary.IndexMessages([]MessageRecord{msg}); err != nil {
			s.logger.Warn().Err(err).Int64("message_id", msg.ID).Msg("index message")
		}
	})
}

func (s *Service) DeleteItem(id int64) {
	if !s.primaryReady() {
		return
	}
	s.spawn(func() {
		if err := s.primary.DeleteItem(id); err != nil {
			s.logger.Warn().Err(err).Int64("item_id", id).Msg("delete item from index")
		}
	})
}

// ReindexAllFromPG pushes every item and message into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	items, messages, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.primary.IndexItems(items); err != nil {
		s.logger.Warn().Err(err).Msg("reindex items")
	}
	if err := s.primary.IndexMessages(messages); err != nil {
		s.logger.Warn().Err(err).Msg("reindex messages")
	}
	s.logger.Info().Int("items", len(items)).Int("messages", len(messages)).Msg("search reindex complete")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
