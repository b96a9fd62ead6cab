package models

import "time"

// RawFile is a file entry as it arrives on the wire. ESPViewed is a pointer
// so a missing field is distinguishable from an explicit false.
type RawFile struct {
	FileID            string    `json:"file_id,omitempty"`
	Filename          string    `json:"filename,omitempty"`
	MediaType         MediaType `json:"media_type,omitempty"`
	SizeBytes         int64     `json:"size_bytes,omitempty"`
	MD5               string    `json:"md5,omitempty"`
	SHA1              string    `json:"sha1,omitempty"`
	SHA256            string    `json:"sha256,omitempty"`
	PhotoDNA          string    `json:"photodna,omitempty"`
	ESPViewed         *bool     `json:"esp_viewed,omitempty"`
	PubliclyAvailable bool      `json:"publicly_available,omitempty"`
}

// RawTipMetadata carries the structured fields a reporting channel may attach
// alongside the free-form narrative.
type RawTipMetadata struct {
	NCMECNumber          string       `json:"ncmec_number,omitempty"`
	CaseNumber           string       `json:"case_number,omitempty"`
	ReporterType         ReporterType `json:"reporter_type,omitempty"`
	ESPName              string       `json:"esp_name,omitempty"`
	Country              string       `json:"country,omitempty"`
	State                string       `json:"state,omitempty"`
	UrgentFlag           bool         `json:"urgent_flag,omitempty"`
	IsBundled            bool         `json:"is_bundled,omitempty"`
	BundledIncidentCount int          `json:"bundled_incident_count,omitempty"`
	Files                []RawFile    `json:"files,omitempty"`
}

// RawTipInput is a submission before any triage has touched it.
type RawTipInput struct {
	Source      Source          `json:"source" validate:"required,oneof=partner-portal partner-api email inter-agency public-web-form"`
	RawContent  string          `json:"raw_content" validate:"required"`
	ContentType ContentType     `json:"content_type" validate:"required,oneof=json xml pdf_text email text"`
	ReceivedAt  time.Time       `json:"received_at,omitempty"`
	Metadata    *RawTipMetadata `json:"metadata,omitempty"`
}
