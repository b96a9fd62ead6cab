package legal

import "strings"

// stateCircuits maps US state and territory postal codes to their federal
// judicial circuit. The circuit decides which private-search precedent
// controls a tip's legal note.
var stateCircuits = map[string]string{
	// 1st Circuit
	"ME": "1st", "NH": "1st", "MA": "1st", "RI": "1st", "PR": "1st",
	// 2nd Circuit
	"VT": "2nd", "CT": "2nd", "NY": "2nd",
	// 3rd Circuit
	"PA": "3rd", "NJ": "3rd", "DE": "3rd", "VI": "3rd",
	// 4th Circuit
	"MD": "4th", "VA": "4th", "WV": "4th", "NC": "4th", "SC": "4th",
	// 5th Circuit
	"TX": "5th", "LA": "5th", "MS": "5th",
	// 6th Circuit
	"OH": "6th", "MI": "6th", "KY": "6th", "TN": "6th",
	// 7th Circuit
	"IN": "7th", "IL": "7th", "WI": "7th",
	// 8th Circuit
	"MN": "8th", "IA": "8th", "MO": "8th", "AR": "8th",
	"NE": "8th", "ND": "8th", "SD": "8th",
	// 9th Circuit
	"CA": "9th", "OR": "9th", "WA": "9th", "AZ": "9th", "NV": "9th",
	"ID": "9th", "MT": "9th", "AK": "9th", "HI": "9th",
	"GU": "9th", "MP": "9th", "AS": "9th",
	// 10th Circuit
	"CO": "10th", "KS": "10th", "NM": "10th", "OK": "10th", "UT": "10th", "WY": "10th",
	// 11th Circuit
	"AL": "11th", "GA": "11th", "FL": "11th",
	// DC Circuit
	"DC": "DC",
}

// ResolveCircuit maps a state code to its federal circuit. Unknown or empty
// states resolve to "unknown"; callers then fall back to the conservative
// default rule.
func ResolveCircuit(state string) string {
	c, ok := stateCircuits[strings.ToUpper(strings.TrimSpace(state))]
	if !ok {
		return "unknown"
	}
	return c
}

// KnownStates returns the number of mapped state and territory codes.
func KnownStates() int {
	return len(stateCircuits)
}
