// ABOUTME: Service is the layer between HTTP handlers and the entity store
// ABOUTME: Validates requests, windows searches and applies change summaries

package entity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/entity-gateway/internal/store"
)

// DefaultChunkSize is the blob streaming chunk size when none is configured
const DefaultChunkSize = 32 * 1024

// Config tunes the service
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	ChunkSize       int
}

// Page is a window of search results plus what a client needs to fetch the next one
type Page struct {
	Items    []store.Entity
	Offset   int
	PageSize int // effective page size after normalization
	Total    int
	HasMore  bool
}

// Service exposes the gateway's entity operations on top of a store.Store
type Service struct {
	store     store.Store
	pager     Pager
	chunkSize int
	buffers   sync.Pool // *[]byte of chunkSize
	logger    *slog.Logger
}

// New creates a new Service
func New(s store.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	svc := &Service{
		store:     s,
		pager:     NewPager(cfg.DefaultPageSize, cfg.MaxPageSize),
		chunkSize: chunkSize,
		logger:    logger.With("component", "entity"),
	}
	svc.buffers.New = func() any {
		buf := make([]byte, chunkSize)
		return &buf
	}
	return svc
}

// Pager returns the page size policy in effect
func (s *Service) Pager() Pager {
	return s.pager
}

// ListTypes returns every entity type known to the store
func (s *Service) ListTypes(ctx context.Context) ([]store.EntityType, error) {
	types, err := s.store.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing types: %w", err)
	}
	return types, nil
}

// Search returns the window [offset, offset+pageSize) of entities of a type
// matching term. Negative offset or pageSize is rejected before the store is
// contacted.
func (s *Service) Search(ctx context.Context, typeID int, term string, offset, pageSize int) (*Page, error) {
	size, err := s.pager.Normalize(offset, pageSize)
	if err != nil {
		return nil, err
	}

	result, err := s.store.Search(ctx, store.SearchQuery{
		TypeID: typeID,
		Term:   term,
		Offset: offset,
		Limit:  size,
	})
	if err != nil {
		return nil, fmt.Errorf("searching type %d: %w", typeID, err)
	}

	items := result.Entities
	if items == nil {
		items = []store.Entity{}
	}
	// Adapters may ignore the limit; the window is enforced here as well
	if len(items) > size {
		items = items[:size]
	}

	return &Page{
		Items:    items,
		Offset:   offset,
		PageSize: size,
		Total:    result.Total,
		HasMore:  offset+len(items) < result.Total,
	}, nil
}

// Get returns a single entity
func (s *Service) Get(ctx context.Context, typeID int, entityID int64) (*store.Entity, error) {
	e, err := s.store.GetEntity(ctx, typeID, entityID)
	if err != nil {
		return nil, fmt.Errorf("getting entity %d/%d: %w", typeID, entityID, err)
	}
	return e, nil
}

// Create allocates a new entity of typeID and applies every value in change
func (s *Service) Create(ctx context.Context, typeID int, change *store.ChangeSummary) (*store.Entity, error) {
	if err := ValidateChange(change); err != nil {
		return nil, err
	}
	e, err := s.store.ApplyChange(ctx, typeID, nil, forCreate(change))
	if err != nil {
		return nil, fmt.Errorf("creating entity of type %d: %w", typeID, err)
	}
	s.logger.Info("entity created", "type_id", typeID, "entity_id", e.ID)
	return e, nil
}

// Update merges change into an existing entity. Attributes not mentioned keep
// their value.
func (s *Service) Update(ctx context.Context, typeID int, entityID int64, change *store.ChangeSummary) (*store.Entity, error) {
	if err := ValidateChange(change); err != nil {
		return nil, err
	}
	if change == nil {
		change = &store.ChangeSummary{}
	}
	e, err := s.store.ApplyChange(ctx, typeID, &entityID, change)
	if err != nil {
		return nil, fmt.Errorf("updating entity %d/%d: %w", typeID, entityID, err)
	}
	return e, nil
}

// Delete removes an entity and its blobs. Deleting an absent entity fails
// with store.ErrNotFound.
func (s *Service) Delete(ctx context.Context, typeID int, entityID int64) error {
	if err := s.store.DeleteEntity(ctx, typeID, entityID); err != nil {
		return fmt.Errorf("deleting entity %d/%d: %w", typeID, entityID, err)
	}
	s.logger.Info("entity deleted", "type_id", typeID, "entity_id", entityID)
	return nil
}
