// Package rules evaluates country/place list specifications and extra
// CIDR/ASN lists against a geolocation lookup result.
package rules

import (
	"strings"
)

// Place is the subset of a lookup result the list matcher needs.
type Place struct {
	Code  string // ISO 3166-1 alpha-2, or "XX"/"ZZ" sentinels
	City  string
	State string
}

// MultiSplit splits a specification on commas and newlines, trimming each
// entry and dropping empties.
func MultiSplit(list string) []string {
	f := func(r rune) bool { return r == ',' || r == '\n' }
	var out []string
	for _, part := range strings.FieldsFunc(list, f) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MatchList reports whether any entry of the list specification matches the
// place. Entries are one of:
//
//	"US"                  country only
//	"FR:Paris"            legacy shorthand, city qualified
//	"US:city:Seattle"     city qualified
//	"US:state:Washington" state qualified
//
// Matching is case-insensitive. A malformed entry never matches; an empty
// list never matches.
func MatchList(list string, p Place) bool {
	for _, entry := range MultiSplit(list) {
		if matchEntry(entry, p) {
			return true
		}
	}
	return false
}

func matchEntry(entry string, p Place) bool {
	info := strings.Split(entry, ":")
	switch len(info) {
	case 1:
		return strings.EqualFold(info[0], p.Code)
	case 2, 3:
		field, place := "city", info[1]
		if len(info) == 3 {
			field, place = strings.ToLower(info[1]), info[2]
		}
		if !strings.EqualFold(info[0], p.Code) {
			return false
		}
		var have string
		switch field {
		case "city":
			have = p.City
		case "state":
			have = p.State
		default:
			return false
		}
		return have != "" && strings.EqualFold(place, have)
	default:
		return false
	}
}
