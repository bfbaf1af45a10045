package snapshot

import "strings"

// belgianCities maps local spellings of Belgian cities onto the canonical
// English form the vendor's discovery endpoint expects.
var belgianCities = map[string]string{
	"brussel":   "Brussels",
	"bruxelles": "Brussels",
	"brussels":  "Brussels",
	"antwerpen": "Antwerp",
	"anvers":    "Antwerp",
	"antwerp":   "Antwerp",
	"gent":      "Ghent",
	"gand":      "Ghent",
	"ghent":     "Ghent",
	"luik":      "Liege",
	"liège":     "Liege",
	"liege":     "Liege",
	"leuven":    "Leuven",
	"louvain":   "Leuven",
	"brugge":    "Bruges",
	"bruges":    "Bruges",
	"mechelen":  "Mechelen",
	"namen":     "Namur",
	"namur":     "Namur",
	"kortrijk":  "Kortrijk",
	"hasselt":   "Hasselt",
	"charleroi": "Charleroi",
	"belgië":    "Belgium",
	"belgique":  "Belgium",
	"belgium":   "Belgium",
}

// RewriteLocation canonicalizes Belgian locations for the vendor query: the
// English city name with ", Belgium" appended, and the country hint forced
// to BE. Non-Belgian locations pass through untouched with no hint.
func RewriteLocation(raw string) (location, countryHint string) {
	trimmed := strings.TrimSpace(raw)
	first := trimmed
	if i := strings.Index(trimmed, ","); i >= 0 {
		first = strings.TrimSpace(trimmed[:i])
	}

	canonical, ok := belgianCities[strings.ToLower(first)]
	if !ok {
		return trimmed, ""
	}
	if canonical == "Belgium" {
		return "Belgium", "BE"
	}
	return canonical + ", Belgium", "BE"
}
