// Package region maps a client timezone to the provisioning region closest to it.
package region

import (
	"strings"
	"time"
	_ "time/tzdata" // offsets must not depend on the host zoneinfo database
)

// Region is a provisioning region identifier.
type Region string

const (
	USEast1      Region = "us-east-1"
	USWest2      Region = "us-west-2"
	EUCentral1   Region = "eu-central-1"
	APSoutheast1 Region = "ap-southeast-1"

	// Default is returned whenever no rule matches.
	Default = USWest2
)

// Known returns every region Select can produce.
func Known() []Region {
	return []Region{USEast1, USWest2, EUCentral1, APSoutheast1}
}

// eastCoast lists timezones served from us-east-1 regardless of the continent rule.
var eastCoast = map[string]struct{}{
	"America/New_York":             {},
	"America/Detroit":              {},
	"America/Toronto":              {},
	"America/Montreal":             {},
	"America/Nassau":               {},
	"America/Nipigon":              {},
	"America/Iqaluit":              {},
	"America/Indiana/Indianapolis": {},
	"America/Indiana/Vincennes":    {},
	"America/Indiana/Winamac":      {},
	"America/Indiana/Marengo":      {},
	"America/Indiana/Petersburg":   {},
	"America/Indiana/Vevay":        {},
	"America/Kentucky/Louisville":  {},
	"America/Kentucky/Monticello":  {},
	"America/Thunder_Bay":          {},
	"America/Port-au-Prince":       {},
	"US/Eastern":                   {},
	"US/Michigan":                  {},
	"US/East-Indiana":              {},
	"Canada/Eastern":               {},
	"EST5EDT":                      {},
	"EST":                          {},
}

var continents = map[string]Region{
	"America":   USWest2,
	"US":        USWest2,
	"Canada":    USWest2,
	"Europe":    EUCentral1,
	"Africa":    EUCentral1,
	"Asia":      APSoutheast1,
	"Australia": APSoutheast1,
	"Pacific":   APSoutheast1,
}

// offsetRange is an inclusive range of whole-hour UTC offsets.
type offsetRange struct {
	min, max int
	region   Region
}

// offsetRanges partition [-24, 24] without gaps or overlaps.
var offsetRanges = []offsetRange{
	{min: -24, max: -4, region: USWest2},
	{min: -3, max: 4, region: EUCentral1},
	{min: 5, max: 24, region: APSoutheast1},
}

// Select resolves the region for a timezone name such as "Europe/Berlin".
// An empty or unknown timezone yields Default. Select never fails.
func Select(timezone string) Region {
	return SelectAt(timezone, time.Now())
}

// SelectAt is Select with the instant used to compute the UTC offset.
func SelectAt(timezone string, at time.Time) (r Region) {
	defer func() {
		if recover() != nil {
			r = Default
		}
	}()

	tz := strings.TrimSpace(timezone)
	if tz == "" {
		return Default
	}

	if _, ok := eastCoast[tz]; ok {
		return USEast1
	}

	if prefix, _, found := strings.Cut(tz, "/"); found {
		if region, ok := continents[prefix]; ok {
			return region
		}
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Default
	}
	_, seconds := at.In(loc).Zone()
	if region, ok := ForOffset(seconds / 3600); ok {
		return region
	}
	return Default
}

// ForOffset maps a whole-hour UTC offset to its region. ok is false only for
// offsets outside [-24, 24].
func ForOffset(hours int) (Region, bool) {
	for _, r := range offsetRanges {
		if hours >= r.min && hours <= r.max {
			return r.region, true
		}
	}
	return "", false
}
