// Package normalize holds the deterministic, side-effect-free cleanup
// functions applied to raw vendor records before ingestion.
package normalize

import (
	"net/url"
	"strings"
)

// CompanyName trims surrounding whitespace but preserves case; the canonical
// name is case-preserved by contract.
func CompanyName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// CompanyURL normalizes a company website URL, adding an https scheme when
// missing. Returns "" for unusable input.
func CompanyURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return ""
	}
	return raw
}

// LogoURL drops obviously invalid logo URLs: anything that does not parse as
// an absolute http(s) URL.
func LogoURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return ""
	}
	return raw
}
