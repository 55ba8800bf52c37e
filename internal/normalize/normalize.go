// Package normalize turns raw text scraped from listing and detail pages into
// typed values. Every function here is pure and safe for concurrent use.
package normalize

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// DefaultCurrency is assumed when a price carries no currency code.
const DefaultCurrency = "CUP"

// IDKind selects which numeric fragment ExtractIDFromURL returns.
type IDKind string

const (
	KindProductID   IDKind = "productId"
	KindPhoneNumber IDKind = "phoneNumber"
)

// minPhoneDigits guards against province codes being taken as phone numbers.
const minPhoneDigits = 6

var (
	reCurrency     = regexp.MustCompile(`[A-Za-z]+`)
	reNumber       = regexp.MustCompile(`[\d,.]+`)
	reNonDigit     = regexp.MustCompile(`\D`)
	reLocationSeps = regexp.MustCompile(`[^A-Za-z0-9À-ÖØ-öø-ÿ\s]+`)
)

// Cost is a parsed price.
type Cost struct {
	Value    float64
	Currency string
}

// Location is a parsed "municipality, state" string.
type Location struct {
	State        string
	Municipality string
}

// ParseCost extracts the numeric value and currency code from price text
// such as "200 USD" or "1,500 cup".
func ParseCost(text string) Cost {
	currency := reCurrency.FindString(text)
	if currency == "" {
		currency = DefaultCurrency
	}
	return Cost{Value: parseNumber(text), Currency: currency}
}

// ParseViews extracts the view counter from text like "1604 visitas".
func ParseViews(text string) float64 {
	return parseNumber(text)
}

func parseNumber(text string) float64 {
	raw := reNumber.FindString(text)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
	if err != nil {
		return 0
	}
	return value
}

// ParseLocation splits a location label into municipality and state.
// A single segment is taken as the state.
func ParseLocation(text string) Location {
	var segments []string
	for _, part := range reLocationSeps.Split(text, -1) {
		// Whitespace of any kind stays inside a segment, as a single space.
		if part = strings.Join(strings.Fields(part), " "); part != "" {
			segments = append(segments, part)
		}
	}

	switch len(segments) {
	case 0:
		return Location{}
	case 1:
		return Location{State: segments[0]}
	default:
		return Location{Municipality: segments[0], State: segments[1]}
	}
}

// ExtractIDFromURL pulls a numeric fragment out of a slug URL such as
// "/item/monitor-165hz-52669205-45321094". The product id is the last numeric
// piece and the phone number the one before it. ok is false when the URL
// carries fewer than two numeric pieces or the phone candidate is too short.
func ExtractIDFromURL(rawURL string, kind IDKind) (id string, ok bool) {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		rawURL = rawURL[:i]
	}

	var numeric []string
	for _, piece := range strings.Split(rawURL, "-") {
		if digits := reNonDigit.ReplaceAllString(piece, ""); digits != "" {
			numeric = append(numeric, digits)
		}
	}
	if len(numeric) < 2 {
		return "", false
	}

	switch kind {
	case KindProductID:
		return numeric[len(numeric)-1], true
	case KindPhoneNumber:
		phone := numeric[len(numeric)-2]
		if len(phone) < minPhoneDigits {
			return "", false
		}
		return phone, true
	default:
		return "", false
	}
}

// BuildFullURL resolves path against base. ok is false if either side is
// malformed or the result is not an absolute URL.
func BuildFullURL(base, path string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(path))
	if err != nil {
		return "", false
	}

	full := baseURL.ResolveReference(ref)
	if full.Scheme == "" || full.Host == "" {
		return "", false
	}
	return full.String(), true
}
