//go:build scripts

// Demo feeder: posts a fixed set of representative tips to a running triage
// server so every intake path lights up: one tip per reporting channel, a
// bundled ESP report, a crisis narrative, and a byte-identical duplicate.
//
//	go run -tags scripts ./scripts -url http://localhost:8080
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tipline/backend/internal/models"
)

// knownHash matches the digest cmd/api seeds in demo mode, so feeding a demo
// server produces real NCMEC/Project VIC verdicts.
const knownHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func main() {
	url := flag.String("url", "http://localhost:8080", "triage server base URL")
	delay := flag.Duration("delay", 500*time.Millisecond, "pause between submissions")
	flag.Parse()

	viewed := true
	feed := []struct {
		label string
		input models.RawTipInput
	}{
		{
			label: "ESP CyberTip with known-hash upload",
			input: models.RawTipInput{
				Source:      models.SourcePartnerAPI,
				ContentType: models.ContentJSON,
				RawContent:  `{"report":"User flagged for uploading known material","account":"shadowfax_88","upload_ip":"203.0.113.7"}`,
				Metadata: &models.RawTipMetadata{
					NCMECNumber:  "CT-2025-1108841",
					ReporterType: models.ReporterESP,
					ESPName:      "SnapStream",
					Country:      "US",
					State:        "CA",
					Files: []models.RawFile{{
						FileID:    "demo-f1",
						Filename:  "IMG_2214.jpg",
						MediaType: models.MediaImage,
						SHA256:    knownHash,
						ESPViewed: &viewed,
					}},
				},
			},
		},
		{
			label: "bundled ESP report (12 incidents)",
			input: models.RawTipInput{
				Source:      models.SourcePartnerPortal,
				ContentType: models.ContentJSON,
				RawContent:  `{"report":"Bundled incident export for account cloud_hopper","incidents":12}`,
				Metadata: &models.RawTipMetadata{
					NCMECNumber:          "CT-2025-1108902",
					ReporterType:         models.ReporterESP,
					ESPName:              "CloudPix",
					Country:              "US",
					State:                "TX",
					IsBundled:            true,
					BundledIncidentCount: 12,
				},
			},
		},
		{
			label: "public web form crisis report",
			input: models.RawTipInput{
				Source:      models.SourcePublicWebForm,
				ContentType: models.ContentText,
				RawContent: "My daughter is 13 and someone on a game chat is threatening to " +
					"post her pictures tonight unless she sends more. His handle is dark_knight_404. " +
					"She is panicking and I do not know what to do.",
				Metadata: &models.RawTipMetadata{
					ReporterType: models.ReporterPublic,
					Country:      "US",
					State:        "WA",
					UrgentFlag:   true,
				},
			},
		},
		{
			label: "forwarded email tip",
			input: models.RawTipInput{
				Source:      models.SourceEmail,
				ContentType: models.ContentEmail,
				RawContent: "From: concerned.neighbor@example.org\nSubject: suspicious activity\n\n" +
					"A man in my building brags about trading files on TOR. Goes by handle " +
					"ghost_owl on forums. Apartment 4B, 1200 Pine St.",
				Metadata: &models.RawTipMetadata{
					ReporterType: models.ReporterPublic,
					Country:      "US",
					State:        "OR",
				},
			},
		},
		{
			label: "inter-agency referral (cross-border)",
			input: models.RawTipInput{
				Source:      models.SourceInterAgency,
				ContentType: models.ContentText,
				RawContent: "Referral from BKA liaison: subject operating distribution channel " +
					"with German and US members. Subject username shadowfax_88, server hosted in Frankfurt.",
				Metadata: &models.RawTipMetadata{
					CaseNumber:   "BKA-2025-44821",
					ReporterType: models.ReporterAgency,
					Country:      "DE",
				},
			},
		},
	}

	for _, item := range feed {
		submit(*url, item.label, item.input)
		time.Sleep(*delay)
	}

	// Byte-identical resubmission: the fingerprint register should fold it
	// into the first tip instead of queueing a second run.
	fmt.Println()
	submit(*url, "duplicate of the first CyberTip", feed[0].input)

	time.Sleep(*delay)
	printStats(*url)
}

func submit(base, label string, input models.RawTipInput) {
	payload, err := json.Marshal(input)
	if err != nil {
		log.Fatalf("marshal %q: %v", label, err)
	}

	resp, err := http.Post(base+"/api/ingest", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST /api/ingest (%s): %v", label, err)
	}
	defer resp.Body.Close()

	var res struct {
		TipID       string `json:"tip_id"`
		JobID       string `json:"job_id"`
		Duplicate   bool   `json:"duplicate"`
		DuplicateOf string `json:"duplicate_of"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		log.Fatalf("decode response (%s): %v", label, err)
	}

	switch {
	case res.Duplicate:
		fmt.Printf("🔁 %-42s folded into %s\n", label, res.DuplicateOf)
	case resp.StatusCode == http.StatusAccepted:
		fmt.Printf("📥 %-42s accepted as %s (job %s)\n", label, res.TipID, res.JobID)
	default:
		fmt.Printf("⚠️ %-42s rejected (%d): %s\n", label, resp.StatusCode, res.Error)
	}
}

func printStats(base string) {
	resp, err := http.Get(base + "/api/stats")
	if err != nil {
		log.Fatalf("GET /api/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Queue struct {
			Completed int64 `json:"completed"`
			Failed    int64 `json:"failed"`
		} `json:"queue"`
		Tips struct {
			Total        int            `json:"total"`
			ByTier       map[string]int `json:"by_tier"`
			CrisisAlerts int            `json:"crisis_alerts"`
		} `json:"tips"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		log.Fatalf("decode stats: %v", err)
	}

	fmt.Println()
	fmt.Printf("📊 %d tips stored, %d crisis alert(s), queue %d done / %d failed\n",
		stats.Tips.Total, stats.Tips.CrisisAlerts, stats.Queue.Completed, stats.Queue.Failed)
	for tier, n := range stats.Tips.ByTier {
		fmt.Printf("   %-10s %d\n", tier, n)
	}
}
