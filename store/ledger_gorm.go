package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dropgate/dropgate/models"
)

// GormLedger is the MySQL-backed Ledger.
type GormLedger struct {
	db *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Create(ctx context.Context, g *models.Grant) error {
	if err := l.db.WithContext(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("create grant: %w", err)
	}
	return nil
}

func (l *GormLedger) Get(ctx context.Context, token string) (*models.Grant, error) {
	var g models.Grant
	err := l.db.WithContext(ctx).First(&g, "token = ?", token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get grant: %w", err)
	}
	return &g, nil
}

// Consume is the race-sensitive operation: a single conditional UPDATE at the
// database so concurrent handlers near the cap can never push the count past
// it.
func (l *GormLedger) Consume(ctx context.Context, token string) (int64, error) {
	res := l.db.WithContext(ctx).Model(&models.Grant{}).
		Where("token = ? AND status = ?", token, models.StatusActive).
		Where("download_cap IS NULL OR download_count < download_cap").
		UpdateColumn("download_count", gorm.Expr("download_count + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("consume grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, token); err != nil {
			return 0, err
		}
		return 0, ErrNoQuota
	}

	// Re-read for the new count. Under a concurrent burst this may observe
	// a slightly later count; the cap itself is enforced by the UPDATE above.
	g, err := l.Get(ctx, token)
	if err != nil {
		return 0, err
	}
	return g.DownloadCount, nil
}

func (l *GormLedger) UpdateStatus(ctx context.Context, token string, from, to models.GrantStatus) error {
	res := l.db.WithContext(ctx).Model(&models.Grant{}).
		Where("token = ? AND status = ?", token, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, token); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (l *GormLedger) SoftDelete(ctx context.Context, token, deletedBy string) error {
	now := time.Now()
	res := l.db.WithContext(ctx).Model(&models.Grant{}).
		Where("token = ? AND status = ?", token, models.StatusActive).
		Updates(map[string]interface{}{
			"status":     models.StatusSoftDeleted,
			"deleted_at": now,
			"deleted_by": deletedBy,
		})
	if res.Error != nil {
		return fmt.Errorf("soft delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, token); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (l *GormLedger) Restore(ctx context.Context, token string) error {
	res := l.db.WithContext(ctx).Model(&models.Grant{}).
		Where("token = ? AND status = ?", token, models.StatusSoftDeleted).
		Updates(map[string]interface{}{
			"status":     models.StatusActive,
			"deleted_at": nil,
			"deleted_by": "",
		})
	if res.Error != nil {
		return fmt.Errorf("restore: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.Get(ctx, token); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (l *GormLedger) Delete(ctx context.Context, token string) error {
	if err := l.db.WithContext(ctx).Delete(&models.Grant{}, "token = ?", token).Error; err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (l *GormLedger) FindTerminal(ctx context.Context, now time.Time, retention time.Duration, limit int) ([]models.Grant, error) {
	var grants []models.Grant
	cutoff := now.Add(-retention)
	err := l.db.WithContext(ctx).
		Where("status <> ?", models.StatusPurged).
		Where("(expires_at IS NOT NULL AND expires_at < ?) OR status = ? OR (status = ? AND deleted_at < ?)",
			now, models.StatusExhausted, models.StatusSoftDeleted, cutoff).
		Limit(limit).
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("find terminal grants: %w", err)
	}
	return grants, nil
}

func (l *GormLedger) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]models.Grant, int64, error) {
	var grants []models.Grant
	var total int64
	q := l.db.WithContext(ctx).Model(&models.Grant{}).
		Where("owner_id = ? AND status <> ?", ownerID, models.StatusPurged)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count grants: %w", err)
	}
	err := q.Order("created_at DESC").Offset(offset).Limit(limit).Find(&grants).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list grants: %w", err)
	}
	return grants, total, nil
}

func (l *GormLedger) Archive(ctx context.Context, a *models.ArchivedGrant) error {
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(a).Error
	if err != nil {
		return fmt.Errorf("archive grant: %w", err)
	}
	return nil
}

func (l *GormLedger) RecordEvent(ctx context.Context, ev *models.DownloadEvent) error {
	if err := l.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("record download event: %w", err)
	}
	return nil
}
