// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/danielhkuo/pollsync/models"
)

// CleanupReport counts rows removed by CleanupOldData.
type CleanupReport struct {
	Polls  int64 `json:"polls" yaml:"polls"`
	Votes  int64 `json:"votes" yaml:"votes"`
	Drafts int64 `json:"drafts" yaml:"drafts"`
}

func (r CleanupReport) Total() int64 {
	return r.Polls + r.Votes + r.Drafts
}

// GetStorageUsage reports bytes used against the quota. The percentage is
// clamped to [0, 100]; Used is reported as measured.
func (s *Store) GetStorageUsage(ctx context.Context) (models.StorageUsage, error) {
	if s.quota != nil {
		used, quota, err := s.quota.Estimate(ctx)
		if err == nil {
			return usage(used, quota), nil
		}
		s.logger.Warn("failed to estimate platform quota, using soft cap", "error", err)
	}

	var pageCount, pageSize uint64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return models.StorageUsage{}, unavailable("read page count", err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return models.StorageUsage{}, unavailable("read page size", err)
	}
	return usage(pageCount*pageSize, s.softCap), nil
}

// usage keeps used within quota; a store over its soft cap reads as full.
func usage(used, quota uint64) models.StorageUsage {
	u := models.StorageUsage{Used: used, Quota: quota}
	if quota > 0 {
		u.Used = min(used, quota)
		u.Percentage = float64(u.Used) * 100 / float64(quota)
	}
	return u
}

// CleanupOldData removes cached polls, and synced votes and drafts, older
// than maxAge. Un-synced records are never removed.
func (s *Store) CleanupOldData(ctx context.Context, maxAge time.Duration) (CleanupReport, error) {
	cutoff := millis(s.now().Add(-maxAge))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return CleanupReport{}, unavailable("begin cleanup", err)
	}
	defer tx.Rollback()

	var report CleanupReport
	steps := []struct {
		query string
		count *int64
	}{
		{`DELETE FROM cached_poll WHERE cached_at < ?`, &report.Polls},
		{`DELETE FROM offline_vote WHERE synced = 1 AND created_at < ?`, &report.Votes},
		{`DELETE FROM offline_draft WHERE synced = 1 AND created_at < ?`, &report.Drafts},
	}
	for _, step := range steps {
		res, err := tx.ExecContext(ctx, step.query, cutoff)
		if err != nil {
			return CleanupReport{}, unavailable("cleanup", err)
		}
		*step.count, _ = res.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return CleanupReport{}, unavailable("commit cleanup", err)
	}

	if report.Total() > 0 {
		if _, err := s.db.ExecContext(ctx, `PRAGMA incremental_vacuum`); err != nil {
			s.logger.Warn("failed to reclaim free pages", "error", err)
		}
	}

	u, err := s.GetStorageUsage(ctx)
	if err == nil {
		s.logger.Info("offline data cleaned up",
			"polls", report.Polls, "votes", report.Votes, "drafts", report.Drafts,
			"max_age", maxAge, "used", humanize.IBytes(u.Used))
	}
	return report, nil
}

// ClearAllData wipes every table, including stored anonymous tokens.
func (s *Store) ClearAllData(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin clear", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"offline_vote", "offline_draft", "cached_poll", "kv"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return unavailable("clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit clear", err)
	}
	s.shadow.reset()
	s.logger.Info("offline data cleared")
	return nil
}
