package repository

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

// Filter is a set of column equality conditions.
type Filter map[string]any

var filterColumn = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// EntityRepository is the generic CRUD surface for the admin resources.
// Uniqueness and in-use checks belong to the caller.
type EntityRepository[T any] interface {
	Find(ctx context.Context, id string) (*T, error)
	FindOne(ctx context.Context, filter Filter) (*T, error)
	FindMany(ctx context.Context, filter Filter, page PageRequest) (PageResult[T], error)
	Create(ctx context.Context, entity *T) error
	FirstOrCreate(ctx context.Context, filter Filter, entity *T) error
	Update(ctx context.Context, id string, data map[string]any) error
	Delete(ctx context.Context, id string) error
}

type GormEntityRepository[T any] struct {
	db   *gorm.DB
	name string
}

func NewEntityRepository[T any](db *gorm.DB, name string) *GormEntityRepository[T] {
	return &GormEntityRepository[T]{db: db, name: name}
}

func (r *GormEntityRepository[T]) Find(ctx context.Context, id string) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err = observe(ctx, r.name, "find", err, nil); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *GormEntityRepository[T]) FindOne(ctx context.Context, filter Filter) (*T, error) {
	q, err := r.filtered(ctx, filter)
	if err != nil {
		return nil, err
	}
	var entity T
	err = q.First(&entity).Error
	if err = observe(ctx, r.name, "find_one", err, nil); err != nil {
		return nil, err
	}
	return &entity, nil
}

func (r *GormEntityRepository[T]) FindMany(ctx context.Context, filter Filter, page PageRequest) (PageResult[T], error) {
	req := normalizePageRequest(page)
	result := PageResult[T]{Page: req.Page, PageSize: req.PageSize}

	q, err := r.filtered(ctx, filter)
	if err != nil {
		return result, err
	}
	if err := q.Count(&result.Total).Error; err != nil {
		return result, observe(ctx, r.name, "find_many", err, nil)
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	items := make([]T, 0, req.PageSize)
	q, _ = r.filtered(ctx, filter)
	err = q.Order("created_at ASC").Offset(req.offset()).Limit(req.PageSize).Find(&items).Error
	if err = observe(ctx, r.name, "find_many", err, nil); err != nil {
		return result, err
	}
	result.Items = items
	return result, nil
}

func (r *GormEntityRepository[T]) Create(ctx context.Context, entity *T) error {
	err := r.db.WithContext(ctx).Create(entity).Error
	return observe(ctx, r.name, "create", err, nil)
}

func (r *GormEntityRepository[T]) FirstOrCreate(ctx context.Context, filter Filter, entity *T) error {
	if err := validateFilter(filter); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Where(map[string]any(filter)).FirstOrCreate(entity).Error
	return observe(ctx, r.name, "first_or_create", err, nil)
}

func (r *GormEntityRepository[T]) Update(ctx context.Context, id string, data map[string]any) error {
	var model T
	res := r.db.WithContext(ctx).Model(&model).Where("id = ?", id).Updates(data)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrNotFound
	}
	return observe(ctx, r.name, "update", err, nil)
}

func (r *GormEntityRepository[T]) Delete(ctx context.Context, id string) error {
	var model T
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrNotFound
	}
	return observe(ctx, r.name, "delete", err, nil)
}

func (r *GormEntityRepository[T]) filtered(ctx context.Context, filter Filter) (*gorm.DB, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	var model T
	q := r.db.WithContext(ctx).Model(&model)
	if len(filter) > 0 {
		q = q.Where(map[string]any(filter))
	}
	return q, nil
}

func validateFilter(filter Filter) error {
	for column := range filter {
		if !filterColumn.MatchString(column) {
			return fmt.Errorf("invalid filter column %q", column)
		}
	}
	return nil
}
