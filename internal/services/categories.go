package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tally/internal/cache"
	"tally/internal/core"
	"tally/internal/log"
)

// CategoryStore is the persistence surface for category definitions.
type CategoryStore interface {
	CreateCategory(ctx context.Context, c core.Category) error
	GetCategory(ctx context.Context, id string) (core.Category, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	CategoryExists(ctx context.Context, name string) (bool, error)
	UpdateCategory(ctx context.Context, id, name string) error
	DeleteCategory(ctx context.Context, id string) error
}

// CategoryService manages category definitions and validates expense
// labels against them. Existence checks are cached; any mutation drops
// the whole cache so validation never sees a stale definition.
type CategoryService struct {
	store  CategoryStore
	cache  *cache.LRUCache[bool]
	logger *log.Logger
}

func NewCategoryService(store CategoryStore, logger *log.Logger) *CategoryService {
	return &CategoryService{
		store:  store,
		cache:  cache.NewLRUCache[bool](256, 5*time.Minute),
		logger: logger.WithComponent(log.ComponentCache),
	}
}

// Cache exposes the existence cache for cleanup registration.
func (s *CategoryService) Cache() *cache.LRUCache[bool] {
	return s.cache
}

// Validate returns ErrInvalidCategory when the label does not match any
// known category. Only positive answers are cached.
func (s *CategoryService) Validate(ctx context.Context, name string) error {
	if _, ok := s.cache.Get(name); ok {
		return nil
	}

	exists, err := s.store.CategoryExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %q", core.ErrInvalidCategory, name)
	}

	s.cache.Set(name, true)
	return nil
}

func (s *CategoryService) Create(ctx context.Context, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.ErrEmptyCategory
	}

	c := core.Category{ID: uuid.NewString(), Name: name}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return core.Category{}, err
	}

	s.cache.Set(name, true)
	s.logger.InfoContext(ctx, "Category created", log.FieldCategory, name)
	return c, nil
}

func (s *CategoryService) Get(ctx context.Context, id string) (core.Category, error) {
	return s.store.GetCategory(ctx, id)
}

func (s *CategoryService) List(ctx context.Context) ([]core.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CategoryService) Update(ctx context.Context, id, name string) (core.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.Category{}, core.ErrEmptyCategory
	}

	if err := s.store.UpdateCategory(ctx, id, name); err != nil {
		return core.Category{}, err
	}

	// The old name must stop validating immediately.
	s.cache.Purge()
	s.logger.InfoContext(ctx, "Category renamed", log.FieldCategory, name)
	return core.Category{ID: id, Name: name}, nil
}

// Delete removes the category definition. Expenses already labeled with
// it keep their label; only new labels are rejected.
func (s *CategoryService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}

	s.cache.Purge()
	s.logger.InfoContext(ctx, "Category deleted", "category_id", id)
	return nil
}
