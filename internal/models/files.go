package models

import "time"

// MediaType categorizes a reported file.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaOther    MediaType = "other"
)

// WarrantStatus tracks legal process for a single file.
type WarrantStatus string

const (
	WarrantNotNeeded          WarrantStatus = "not_needed"
	WarrantPendingApplication WarrantStatus = "pending_application"
	WarrantApplied            WarrantStatus = "applied"
	WarrantGranted            WarrantStatus = "granted"
	WarrantDenied             WarrantStatus = "denied"
)

// TipFile is one reported media item. The ESP-viewing fields drive the
// per-file warrant determination; FileAccessBlocked is always derived, never
// set directly by callers.
type TipFile struct {
	FileID    string    `json:"file_id"`
	Filename  string    `json:"filename,omitempty"`
	MediaType MediaType `json:"media_type"`
	SizeBytes int64     `json:"size_bytes,omitempty"`

	MD5      string `json:"md5,omitempty"`
	SHA1     string `json:"sha1,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	PhotoDNA string `json:"photodna,omitempty"`

	ESPViewed         bool `json:"esp_viewed"`
	ESPViewedMissing  bool `json:"esp_viewed_missing"`
	PubliclyAvailable bool `json:"publicly_available"`

	WarrantRequired   bool          `json:"warrant_required"`
	WarrantStatus     WarrantStatus `json:"warrant_status"`
	WarrantNumber     string        `json:"warrant_number,omitempty"`
	FileAccessBlocked bool          `json:"file_access_blocked"`

	NCMECMatch        bool    `json:"ncmec_hash_match,omitempty"`
	ProjectVICMatch   bool    `json:"project_vic_match,omitempty"`
	IWFMatch          bool    `json:"iwf_match,omitempty"`
	InterpolMatch     bool    `json:"interpol_icse_match,omitempty"`
	KnownVictimSeries bool    `json:"known_victim_series,omitempty"`
	NovelMaterial     bool    `json:"novel_material,omitempty"`
	AIGSuspected      bool    `json:"aig_csam_suspected,omitempty"`
	AIGConfidence     float64 `json:"aig_detection_confidence,omitempty"`
}

// AnyHashMatch reports whether any watchlist database matched this file.
func (f TipFile) AnyHashMatch() bool {
	return f.NCMECMatch || f.ProjectVICMatch || f.IWFMatch || f.InterpolMatch
}

// PreservationStatus is the lifecycle of a §2703(f) request. Drafts are
// auto-generated by the priority engine and become actionable only when a
// human issues them.
type PreservationStatus string

const (
	PreservationDraft     PreservationStatus = "draft"
	PreservationIssued    PreservationStatus = "issued"
	PreservationConfirmed PreservationStatus = "confirmed"
	PreservationExpired   PreservationStatus = "expired"
)

// PreservationRequest records a preservation letter to an ESP so the
// provider retains data past its normal retention window.
type PreservationRequest struct {
	RequestID          string             `json:"request_id"`
	TipID              string             `json:"tip_id"`
	ESPName            string             `json:"esp_name"`
	AccountIdentifiers []string           `json:"account_identifiers,omitempty"`
	LegalBasis         string             `json:"legal_basis,omitempty"`
	Jurisdiction       string             `json:"jurisdiction,omitempty"`
	AutoGenerated      bool               `json:"auto_generated"`
	RetentionDays      int                `json:"retention_days"`
	Deadline           time.Time          `json:"deadline"`
	Status             PreservationStatus `json:"status"`
	LetterText         string             `json:"letter_text,omitempty"`
	IssuedAt           time.Time          `json:"issued_at,omitempty"`
	ApprovedBy         string             `json:"approved_by,omitempty"`
}
