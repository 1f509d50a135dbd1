package payment

import (
	"fmt"
	"regexp"
	"strings"
)

// momoPatterns holds the national mobile-money numbering plan per country.
// The first submatch is the subscriber number without any prefix.
var momoPatterns = map[string]struct {
	pattern *regexp.Regexp
	prefix  string
}{
	// MTN (078, 079) and Airtel (072, 073).
	"RW": {regexp.MustCompile(`^(?:\+?250|0)(7[2389]\d{7})$`), "250"},
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", ".", "", "(", "", ")", "")

// NormalizePhone validates raw against country's numbering plan and returns
// it in international form without the plus sign, e.g. 250788123456.
func NormalizePhone(country, raw string) (string, error) {
	plan, ok := momoPatterns[strings.ToUpper(country)]
	if !ok {
		return "", fmt.Errorf("payment: no mobile-money numbering plan for %q", country)
	}
	m := plan.pattern.FindStringSubmatch(phoneSeparators.Replace(strings.TrimSpace(raw)))
	if m == nil {
		return "", fmt.Errorf("payment: %q is not a mobile-money number", raw)
	}
	return plan.prefix + m[1], nil
}
