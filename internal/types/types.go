package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is one row of a remote listing, exactly as the client application holds it.
// Values arrive through JSON, so numbers are float64.
type Record map[string]any

// Key returns the record's natural key as a string, or "" when the key is missing.
// Null, blank strings and numeric zero all count as missing.
func (r Record) Key(field string) string {
	return KeyString(r[field])
}

// KeyString renders a key value the same way for records and page comparisons.
func KeyString(v any) string {
	switch k := v.(type) {
	case nil:
		return ""
	case string:
		if strings.TrimSpace(k) == "" {
			return ""
		}
		return k
	case float64:
		if k == 0 {
			return ""
		}
		return strconv.FormatFloat(k, 'f', -1, 64)
	case int:
		if k == 0 {
			return ""
		}
		return strconv.Itoa(k)
	case int64:
		if k == 0 {
			return ""
		}
		return strconv.FormatInt(k, 10)
	case bool:
		return ""
	default:
		return fmt.Sprint(k)
	}
}

// PageInfo is the pagination state exposed by the listing's client application.
type PageInfo struct {
	Total       int `json:"total"`
	PageSize    int `json:"pageSize"`
	CurrentPage int `json:"currentPage"`
}

// PageSnapshot is one poll of the listing.
type PageSnapshot struct {
	Records     []Record
	Total       int
	PageSize    int
	CurrentPage int
}

// LeadingKey returns the natural key of the first record, or "" for an empty page.
func (p PageSnapshot) LeadingKey(field string) string {
	if len(p.Records) == 0 {
		return ""
	}
	return p.Records[0].Key(field)
}

// Geometry describes one slider challenge.
type Geometry struct {
	GapOffset         int `json:"gap_offset"`
	CalibrationOffset int `json:"calibration_offset"`
}

// Distance is the total horizontal drag distance for the challenge.
func (g Geometry) Distance() int {
	return g.GapOffset + g.CalibrationOffset
}

// AuthStatus is the authentication state of a browser session.
type AuthStatus int

const (
	AuthUnknown AuthStatus = iota
	AuthUnauthenticated
	AuthAuthenticated
)

func (s AuthStatus) String() string {
	switch s {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
