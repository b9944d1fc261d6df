package syncer

import (
	"errors"
	"fmt"
	"time"

	"github.com/flanksource/commons/logger"
	"gorm.io/gorm"

	"github.com/code-cortex/codemirror/models"
)

// ErrSyncConflict marks an upload whose base state is stale on one side.
// Both payloads stay on the record for explicit resolution.
var ErrSyncConflict = errors.New("sync conflict")

// ErrInvalidPayload marks an upload rejected before any record is written.
var ErrInvalidPayload = errors.New("invalid sync payload")

// UploadPayload is the wire document a CLI client submits. Field names are
// the cross-boundary contract with the offline client.
type UploadPayload struct {
	SyncToken     string         `json:"sync_token"`
	CLIAnalysisID string         `json:"cli_analysis_id"`
	CLIVersion    string         `json:"cli_version"`
	LocalPath     string         `json:"local_path"`
	RepoIdentity  string         `json:"repo_identity"`
	DetectedStack []string       `json:"detected_stack,omitempty"`
	AnalyzedAt    time.Time      `json:"analyzed_at"`
	BaseSyncedAt  *time.Time     `json:"base_synced_at,omitempty"`
	Result        models.JSONMap `json:"result"`
}

// Reconciler maps offline CLI analysis runs onto canonical web records.
// All reconciliation for one (user, local_path) runs in a single
// transaction so a racing web analysis cannot cause a lost update.
type Reconciler struct {
	db *gorm.DB
}

// New creates a reconciler over the given database.
func New(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

// Upload reconciles one CLI submission. A repeated token returns the
// existing record unchanged; a divergent base yields a conflict record
// with both payloads retained.
func (r *Reconciler) Upload(userID string, payload UploadPayload) (*models.SyncRecord, error) {
	if payload.SyncToken == "" || payload.CLIAnalysisID == "" || payload.LocalPath == "" {
		return nil, fmt.Errorf("%w: missing token, analysis id or local path", ErrInvalidPayload)
	}

	var record *models.SyncRecord
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.SyncRecord
		err := tx.Where("sync_token = ?", payload.SyncToken).First(&existing).Error
		if err == nil {
			// Idempotent re-upload keeps the established pairing.
			record = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up sync token: %w", err)
		}

		record = &models.SyncRecord{
			SyncToken:     payload.SyncToken,
			UserID:        userID,
			CLIAnalysisID: payload.CLIAnalysisID,
			CLIVersion:    payload.CLIVersion,
			Status:        models.SyncPending,
			LocalPayload:  payload.Result,
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to create sync record: %w", err)
		}

		mapping, err := r.resolveMapping(tx, userID, payload)
		if err != nil {
			return r.markError(tx, record, err)
		}

		webJob, divergent, err := r.detectDivergence(tx, mapping, payload)
		if err != nil {
			return r.markError(tx, record, err)
		}
		if divergent {
			// Divergence always names the newer web job it was detected
			// against.
			updates := map[string]any{
				"status":          models.SyncConflict,
				"remote_payload":  webJob.Result,
				"web_analysis_id": webJob.JobID,
				"updated_at":      time.Now(),
			}
			if err := tx.Model(record).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to mark conflict: %w", err)
			}
			record.Status = models.SyncConflict
			logger.Warnf("sync conflict for %s (%s)", payload.LocalPath, payload.SyncToken)
			return nil
		}

		now := time.Now()
		updates := map[string]any{
			"status":     models.SyncSynced,
			"updated_at": now,
		}
		if webJob != nil {
			updates["web_analysis_id"] = webJob.JobID
		}
		if err := tx.Model(record).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to mark synced: %w", err)
		}
		if err := tx.Model(mapping).Update("last_synced_at", now).Error; err != nil {
			return fmt.Errorf("failed to stamp mapping: %w", err)
		}
		record.Status = models.SyncSynced
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.Get(record.SyncToken)
}

// Get returns the sync record for a token. The pairing stays stable until
// an explicit re-sync.
func (r *Reconciler) Get(syncToken string) (*models.SyncRecord, error) {
	var record models.SyncRecord
	if err := r.db.Where("sync_token = ?", syncToken).First(&record).Error; err != nil {
		return nil, fmt.Errorf("failed to load sync record %s: %w", syncToken, err)
	}
	return &record, nil
}

// resolveMapping finds the (user, local_path) mapping, creating it on
// first sync. An established mapping is never silently overwritten; a
// mismatched repo identity is an error for the caller to resolve.
func (r *Reconciler) resolveMapping(tx *gorm.DB, userID string, payload UploadPayload) (*models.RepoMapping, error) {
	var mapping models.RepoMapping
	err := tx.Where("user_id = ? AND local_path = ?", userID, payload.LocalPath).First(&mapping).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mapping = models.RepoMapping{
			UserID:        userID,
			LocalPath:     payload.LocalPath,
			RepoIdentity:  payload.RepoIdentity,
			DetectedStack: payload.DetectedStack,
		}
		if err := tx.Create(&mapping).Error; err != nil {
			return nil, fmt.Errorf("failed to create repo mapping: %w", err)
		}
		return &mapping, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load repo mapping: %w", err)
	}
	if payload.RepoIdentity != "" && mapping.RepoIdentity != payload.RepoIdentity {
		return nil, fmt.Errorf("repo identity mismatch for %s: mapped to %s, upload claims %s",
			payload.LocalPath, mapping.RepoIdentity, payload.RepoIdentity)
	}
	return &mapping, nil
}

// detectDivergence compares the upload's base against the newest completed
// web-side job for the same repository identity.
func (r *Reconciler) detectDivergence(tx *gorm.DB, mapping *models.RepoMapping, payload UploadPayload) (*models.Job, bool, error) {
	var webJob models.Job
	err := tx.Where("repo_ref = ? AND status = ?", mapping.RepoIdentity, models.JobStatusCompleted).
		Order("completed_at DESC").First(&webJob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load web analyses: %w", err)
	}
	if webJob.CompletedAt == nil {
		return &webJob, false, nil
	}

	// The web side has moved if it completed an analysis after the base
	// state the CLI run started from.
	base := payload.BaseSyncedAt
	if base == nil {
		base = mapping.LastSyncedAt
	}
	if base == nil {
		// First sync with existing web history counts as synced; the CLI
		// result simply joins it.
		return &webJob, false, nil
	}
	if webJob.CompletedAt.After(*base) {
		return &webJob, true, nil
	}
	return &webJob, false, nil
}

func (r *Reconciler) markError(tx *gorm.DB, record *models.SyncRecord, cause error) error {
	if err := tx.Model(record).Updates(map[string]any{
		"status":        models.SyncError,
		"error_message": cause.Error(),
		"updated_at":    time.Now(),
	}).Error; err != nil {
		return fmt.Errorf("failed to mark sync error: %w", err)
	}
	record.Status = models.SyncError
	record.Error = cause.Error()
	return nil
}
