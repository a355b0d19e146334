package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-channel-broker/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// InstanceStore persists service instance documents with an integer
// revision column as the optimistic-concurrency token. Updates guard on
// the expected revision in the WHERE clause; zero affected rows is a
// lost race, never silently absorbed.
type InstanceStore struct {
	db   *bun.DB
	repo repository.Repository[*instanceRecord]
}

func NewInstanceStore(db *bun.DB) (*InstanceStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*instanceRecord](db, instanceHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid instance repository wiring: %w", err)
		}
	}
	return &InstanceStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *InstanceStore) Get(ctx context.Context, id string) (core.ServiceInstance, string, error) {
	if s == nil || s.db == nil {
		return core.ServiceInstance{}, "", fmt.Errorf("sqlstore: instance store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.ServiceInstance{}, "", fmt.Errorf("sqlstore: instance id is required")
	}

	record := new(instanceRecord)
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.ServiceInstance{}, "", fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
		}
		return core.ServiceInstance{}, "", err
	}
	return record.toDomain(), strconv.FormatInt(record.Revision, 10), nil
}

func (s *InstanceStore) Put(ctx context.Context, id string, doc core.ServiceInstance, expectedToken string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: instance store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("sqlstore: instance id is required")
	}

	now := time.Now().UTC()
	if strings.TrimSpace(expectedToken) == "" {
		return s.create(ctx, id, doc, now)
	}
	return s.update(ctx, id, doc, expectedToken, now)
}

func (s *InstanceStore) create(ctx context.Context, id string, doc core.ServiceInstance, now time.Time) (string, error) {
	record := newInstanceRecord(id, doc, 1, now)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: document %s already exists", core.ErrStoreConflict, id)
		}
		return "", err
	}
	return "1", nil
}

func (s *InstanceStore) update(ctx context.Context, id string, doc core.ServiceInstance, expectedToken string, now time.Time) (string, error) {
	expected, err := strconv.ParseInt(strings.TrimSpace(expectedToken), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: document %s token %q is malformed", core.ErrStoreConflict, id, expectedToken)
	}

	record := newInstanceRecord(id, doc, expected+1, now)
	res, err := s.db.NewUpdate().
		Model(record).
		Column(
			"organization_id",
			"channel_id",
			"dashboard_url",
			"parameters",
			"service_credentials",
			"channel_newly_created",
			"toolchain_bindings",
			"deleted",
			"revision",
			"updated_at",
		).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.revision = ?", expected).
		Exec(ctx)
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected == 0 {
		exists, existsErr := s.db.NewSelect().
			Model((*instanceRecord)(nil)).
			Where("?TableAlias.id = ?", id).
			Exists(ctx)
		if existsErr != nil {
			return "", existsErr
		}
		if !exists {
			return "", fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
		}
		return "", fmt.Errorf("%w: document %s token mismatch", core.ErrStoreConflict, id)
	}
	return strconv.FormatInt(expected+1, 10), nil
}

// List returns the stored documents, tombstones included when withDeleted
// is set. It backs operational inspection, not the reconcile path.
func (s *InstanceStore) List(ctx context.Context, withDeleted bool) ([]core.ServiceInstance, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: instance store is not configured")
	}
	criteria := []repository.SelectCriteria{
		repository.OrderBy("created_at ASC"),
	}
	if !withDeleted {
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("deleted = ?", false)
		})
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	out := make([]core.ServiceInstance, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
