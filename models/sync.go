package models

import (
	"time"
)

// SyncStatus is the lifecycle of a CLI upload reconciliation.
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

// SyncRecord correlates one offline (CLI) analysis identity with at most
// one web-side analysis identity. A conflict keeps both payloads so the
// caller can resolve it explicitly.
type SyncRecord struct {
	ID            uint       `json:"-" gorm:"primaryKey;autoIncrement"`
	SyncToken     string     `json:"sync_token" gorm:"column:sync_token;uniqueIndex;not null"`
	UserID        string     `json:"user_id" gorm:"column:user_id;not null;index"`
	CLIAnalysisID string     `json:"cli_analysis_id" gorm:"column:cli_analysis_id;not null"`
	WebAnalysisID string     `json:"web_analysis_id,omitempty" gorm:"column:web_analysis_id"`
	CLIVersion    string     `json:"cli_version,omitempty" gorm:"column:cli_version"`
	Status        SyncStatus `json:"status" gorm:"column:status;not null;index"`

	LocalPayload  JSONMap `json:"local_payload,omitempty" gorm:"column:local_payload;serializer:json"`
	RemotePayload JSONMap `json:"remote_payload,omitempty" gorm:"column:remote_payload;serializer:json"`
	Error         string  `json:"error,omitempty" gorm:"column:error_message"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (SyncRecord) TableName() string {
	return "sync_records"
}

// RepoMapping is the stable link between a CLI-side local path and the
// canonical web-side repository identity, unique per (user, local_path).
// Created on first successful sync and never silently overwritten.
type RepoMapping struct {
	ID            uint        `json:"-" gorm:"primaryKey;autoIncrement"`
	UserID        string      `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_repo_mappings_user_path"`
	LocalPath     string      `json:"local_path" gorm:"column:local_path;not null;uniqueIndex:idx_repo_mappings_user_path"`
	RepoIdentity  string      `json:"repo_identity" gorm:"column:repo_identity;not null;index"`
	DetectedStack StringArray `json:"detected_stack,omitempty" gorm:"column:detected_stack;type:text"`
	LastSyncedAt  *time.Time  `json:"last_synced_at,omitempty" gorm:"column:last_synced_at"`
	CreatedAt     time.Time   `json:"created_at" gorm:"column:created_at"`
}

func (RepoMapping) TableName() string {
	return "repo_mappings"
}
