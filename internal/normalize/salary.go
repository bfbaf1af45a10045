package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"jobradar/internal/model"
)

var (
	salaryNumberRe = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*([kK]?)`)
	currencyRe     = regexp.MustCompile(`€|\$|£|\bEUR\b|\bUSD\b|\bGBP\b`)
)

var currencyNames = map[string]string{
	"€": "EUR", "$": "USD", "£": "GBP",
	"EUR": "EUR", "USD": "USD", "GBP": "GBP",
}

var currencySymbols = map[string]string{
	"EUR": "€", "USD": "$", "GBP": "£",
}

// ParseSalary extracts one or two numeric values, the currency and the pay
// period from a free-form salary string. Returns nil when no number is found.
func ParseSalary(raw string) *model.Salary {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	matches := salaryNumberRe.FindAllStringSubmatch(raw, 2)
	if len(matches) == 0 {
		return nil
	}

	values := make([]float64, 0, 2)
	for _, m := range matches {
		n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if m[2] != "" {
			n *= 1000
		}
		values = append(values, n)
	}
	if len(values) == 0 {
		return nil
	}

	sal := &model.Salary{Min: values[0], Max: values[0]}
	if len(values) > 1 {
		sal.Max = values[1]
	}
	if sal.Max < sal.Min {
		sal.Min, sal.Max = sal.Max, sal.Min
	}

	if cur := currencyRe.FindString(raw); cur != "" {
		sal.Currency = currencyNames[cur]
	}
	sal.Period = detectPeriod(raw)
	return sal
}

func detectPeriod(raw string) string {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "year") || strings.Contains(lower, "annum") || strings.Contains(lower, "annual"):
		return "year"
	case strings.Contains(lower, "month"):
		return "month"
	case strings.Contains(lower, "week"):
		return "week"
	case strings.Contains(lower, "hour"):
		return "hour"
	default:
		return ""
	}
}

// FormatSalary renders a salary in a form ParseSalary maps back to the same
// (min, max, currency, period) tuple.
func FormatSalary(s model.Salary) string {
	symbol := currencySymbols[s.Currency]
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s", symbol, formatAmount(s.Min))
	if s.Max != s.Min {
		fmt.Fprintf(&b, " - %s%s", symbol, formatAmount(s.Max))
	}
	if s.Period != "" {
		fmt.Fprintf(&b, " per %s", s.Period)
	}
	return b.String()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
