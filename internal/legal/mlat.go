package legal

import (
	"strings"
	"time"

	"github.com/tipline/backend/internal/models"
)

// mlatPartners lists countries with an in-force Mutual Legal Assistance
// Treaty with the United States (subset relevant to tip traffic).
var mlatPartners = map[string]bool{
	"GB": true, "DE": true, "FR": true, "NL": true, "CA": true,
	"AU": true, "JP": true, "KR": true, "BR": true, "MX": true,
	"IT": true, "ES": true, "SE": true, "CH": true, "IN": true,
	"PH": true, "TH": true, "ZA": true, "IE": true, "PL": true,
}

// budapestSignatories lists Cybercrime Convention parties, which allows
// expedited preservation requests under Article 29.
var budapestSignatories = map[string]bool{
	"GB": true, "DE": true, "FR": true, "NL": true, "CA": true,
	"AU": true, "JP": true, "IT": true, "ES": true, "SE": true,
	"CH": true, "PH": true, "ZA": true, "IE": true, "PL": true,
	"RO": true, "UA": true, "NO": true, "PT": true, "AT": true,
}

var europeanUnion = map[string]bool{
	"DE": true, "FR": true, "NL": true, "IT": true, "ES": true,
	"SE": true, "IE": true, "PL": true, "RO": true, "PT": true,
	"AT": true, "BE": true, "DK": true, "FI": true, "GR": true,
	"HU": true, "CZ": true, "SK": true, "BG": true, "HR": true,
	"SI": true, "LT": true, "LV": true, "EE": true, "LU": true,
	"MT": true, "CY": true,
}

// CountryAssessment is the cross-border process recommendation for one
// foreign country on a tip.
type CountryAssessment struct {
	Country            string `json:"country"`
	MLATTreaty         bool   `json:"mlat_treaty"`
	BudapestConvention bool   `json:"budapest_convention"`
	EUMember           bool   `json:"eu_member"`
	RecommendedChannel string `json:"recommended_channel"`
	Notes              string `json:"notes,omitempty"`
}

// MLATAssessment summarizes foreign-evidence channels for a tip.
type MLATAssessment struct {
	TipID            string              `json:"tip_id"`
	CrossBorder      bool                `json:"cross_border"`
	Countries        []CountryAssessment `json:"countries,omitempty"`
	InterpolReferral bool                `json:"interpol_referral"`
	EuropolReferral  bool                `json:"europol_referral"`
	GeneratedAt      time.Time           `json:"generated_at"`
}

// AssessMLAT evaluates the foreign jurisdictions on a tip and recommends an
// evidence channel per country.
func AssessMLAT(tip *models.Tip) MLATAssessment {
	out := MLATAssessment{
		TipID:            tip.TipID,
		InterpolReferral: tip.Jurisdiction.InterpolReferral,
		EuropolReferral:  tip.Jurisdiction.EuropolReferral,
		GeneratedAt:      time.Now().UTC(),
	}
	for _, c := range tip.Jurisdiction.Countries {
		code := strings.ToUpper(strings.TrimSpace(c))
		if code == "" || code == "US" || code == "USA" {
			continue
		}
		ca := CountryAssessment{
			Country:            code,
			MLATTreaty:         mlatPartners[code],
			BudapestConvention: budapestSignatories[code],
			EUMember:           europeanUnion[code],
		}
		switch {
		case ca.BudapestConvention:
			ca.RecommendedChannel = "budapest_convention"
			ca.Notes = "Article 29 expedited preservation available; follow with MLAT for content."
		case ca.MLATTreaty:
			ca.RecommendedChannel = "mlat"
			ca.Notes = "Route through OIA; expect multi-month turnaround."
		case ca.EUMember:
			ca.RecommendedChannel = "europol"
			ca.Notes = "No direct treaty path; refer via Europol liaison."
		default:
			ca.RecommendedChannel = "interpol"
			ca.Notes = "No treaty relationship; INTERPOL notice is the only channel."
		}
		out.Countries = append(out.Countries, ca)
	}
	out.CrossBorder = len(out.Countries) > 0
	return out
}
