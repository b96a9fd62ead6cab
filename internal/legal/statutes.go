package legal

import "github.com/tipline/backend/internal/models"

// Statute is one federal charging provision relevant to an offense category.
type Statute struct {
	Citation    string `json:"citation"`
	Description string `json:"description"`
}

var statutesByOffense = map[models.OffenseCategory][]Statute{
	models.OffenseCSAM: {
		{Citation: "18 U.S.C. § 2252", Description: "Transport, receipt, distribution, possession of child sexual abuse material"},
		{Citation: "18 U.S.C. § 2252A", Description: "Child pornography offenses involving computers"},
		{Citation: "18 U.S.C. § 2251", Description: "Sexual exploitation of children (production)"},
	},
	models.OffenseGrooming: {
		{Citation: "18 U.S.C. § 2422(b)", Description: "Coercion and enticement of a minor"},
	},
	models.OffenseSextortion: {
		{Citation: "18 U.S.C. § 2251(a)", Description: "Production by coercion"},
		{Citation: "18 U.S.C. § 875(d)", Description: "Interstate extortionate threats"},
	},
	models.OffenseTrafficking: {
		{Citation: "18 U.S.C. § 1591", Description: "Sex trafficking of children"},
	},
	models.OffenseOther: {
		{Citation: "18 U.S.C. § 2258A", Description: "Provider reporting requirements"},
	},
}

// aigStatute supplements any category when generated imagery is involved.
var aigStatute = Statute{
	Citation:    "18 U.S.C. § 1466A",
	Description: "Obscene visual representations of the sexual abuse of children (covers AI-generated imagery)",
}

// StatutesFor returns charging provisions for a classification. AIG
// involvement appends § 1466A regardless of category.
func StatutesFor(c *models.Classification) []Statute {
	if c == nil {
		return nil
	}
	base, ok := statutesByOffense[c.OffenseCategory]
	if !ok {
		base = statutesByOffense[models.OffenseOther]
	}
	out := make([]Statute, len(base))
	copy(out, base)
	if c.AIGInvolved {
		out = append(out, aigStatute)
	}
	return out
}
