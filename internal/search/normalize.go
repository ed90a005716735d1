package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CacheKey groups requests whose trimmed, case-folded query matches and whose
// coordinates agree to three decimals (~100 m).
func CacheKey(query string, center Coordinates) string {
	return fmt.Sprintf("search:%s:%s:%s", NormalizeQuery(query), formatCoord(center.Lat), formatCoord(center.Lng))
}

// NormalizeQuery lower-cases the query and collapses internal whitespace.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	if s == "-0.000" {
		return "0.000"
	}
	return s
}

var (
	leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)
	nonDigits     = regexp.MustCompile(`\D`)
)

// NormalizeListings trims scraped fields, parses numbers, and drops items
// without a name. The returned slice is never nil.
func NormalizeListings(raw []RawListing) []Listing {
	out := make([]Listing, 0, len(raw))
	for _, item := range raw {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		out = append(out, Listing{
			Name:      name,
			Rating:    parseLeadingFloat(item.Rating),
			Reviews:   parseReviewCount(item.ReviewCount),
			Address:   optionalString(item.Address),
			Phone:     optionalString(item.Phone),
			Website:   optionalString(item.Website),
			Image:     optionalString(item.ImageURL),
			SourceURL: optionalString(item.SourceURL),
			Latitude:  parseLeadingFloat(item.Latitude),
			Longitude: parseLeadingFloat(item.Longitude),
		})
	}
	return out
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// parseLeadingFloat reads the numeric prefix of s, so "4.5 stars" yields 4.5.
func parseLeadingFloat(s string) *float64 {
	m := leadingNumber.FindString(strings.TrimSpace(s))
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseReviewCount(s string) int {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
