package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/inkwell-hq/inkwell/internal/models"
	"github.com/inkwell-hq/inkwell/pkg/logger"
)

// DefaultListLimit bounds event queries when the caller supplies no limit.
const DefaultListLimit = 50

// Entry captures a single security event to persist.
type Entry struct {
	PrincipalID string
	Kind        string
	IPAddress   string
	UserAgent   string
	Metadata    map[string]any
}

// Service appends and queries the immutable security event log.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewService constructs an event log service using the provided database handle.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, errors.New("events: db is required")
	}
	return &Service{db: db, log: logger.WithModule("events")}, nil
}

// Record appends an event. Events are write-once; there is no update path.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.PrincipalID) == "" {
		return errors.New("events: principal id is required")
	}
	if strings.TrimSpace(entry.Kind) == "" {
		return errors.New("events: kind is required")
	}

	var payload []byte
	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("events: marshal metadata: %w", err)
		}
		payload = encoded
	}

	event := models.SecurityEvent{
		PrincipalID: strings.TrimSpace(entry.PrincipalID),
		Kind:        strings.TrimSpace(entry.Kind),
		IPAddress:   strings.TrimSpace(entry.IPAddress),
		UserAgent:   strings.TrimSpace(entry.UserAgent),
		Metadata:    payload,
	}

	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("events: record %s: %w", event.Kind, err)
	}
	return nil
}

// RecordBestEffort appends an event and swallows failures. Audit logging must
// never abort the primary operation.
func (s *Service) RecordBestEffort(ctx context.Context, entry Entry) {
	if err := s.Record(ctx, entry); err != nil {
		s.log.Warn("security event dropped",
			zap.String("kind", entry.Kind),
			zap.String("principal_id", entry.PrincipalID),
			zap.Error(err),
		)
	}
}

// Recent returns the newest events for a principal, most recent first.
func (s *Service) Recent(ctx context.Context, principalID string, limit int) ([]models.SecurityEvent, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, errors.New("events: principal id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = DefaultListLimit
	}

	var results []models.SecurityEvent
	if err := s.db.WithContext(ctx).
		Where("principal_id = ?", principalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("events: list recent: %w", err)
	}
	return results, nil
}

// RecentByKind returns up to limit events of one kind recorded since the cutoff,
// most recent first. The detector's lookback window rides on this query.
func (s *Service) RecentByKind(ctx context.Context, principalID, kind string, since time.Time, limit int) ([]models.SecurityEvent, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, errors.New("events: principal id is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var results []models.SecurityEvent
	if err := s.db.WithContext(ctx).
		Where("principal_id = ? AND kind = ? AND created_at >= ?", principalID, kind, since).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("events: list by kind: %w", err)
	}
	return results, nil
}

// CountByKindSince returns the number of events of one kind since the cutoff.
func (s *Service) CountByKindSince(ctx context.Context, principalID, kind string, since time.Time) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.SecurityEvent{}).
		Where("principal_id = ? AND kind = ? AND created_at >= ?", principalID, kind, since).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("events: count by kind: %w", err)
	}
	return count, nil
}

// CleanupOlderThan removes events older than the supplied retention window (in days).
func (s *Service) CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("events: retentionDays must be positive")
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.SecurityEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("events: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}
