package normalize

import "strings"

// ParsedLocation is the comma-split interpretation of a raw location string.
type ParsedLocation struct {
	City        string
	Region      string
	CountryCode string
}

// ParseLocation splits a raw location on commas and maps the parts onto
// city/region/country heuristically. Two-letter tokens are treated as
// ISO country codes.
func ParseLocation(raw string) ParsedLocation {
	var parts []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			parts = append(parts, p)
		}
	}

	var loc ParsedLocation
	switch len(parts) {
	case 0:
	case 1:
		if isCountryCode(parts[0]) {
			loc.CountryCode = strings.ToUpper(parts[0])
		} else {
			loc.City = parts[0]
		}
	case 2:
		loc.City = parts[0]
		if isCountryCode(parts[1]) {
			loc.CountryCode = strings.ToUpper(parts[1])
		} else {
			loc.Region = parts[1]
		}
	default:
		loc.City = parts[0]
		loc.Region = parts[1]
		last := parts[len(parts)-1]
		if isCountryCode(last) {
			loc.CountryCode = strings.ToUpper(last)
		} else {
			loc.Region = strings.Join(parts[1:], ", ")
		}
	}
	return loc
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
