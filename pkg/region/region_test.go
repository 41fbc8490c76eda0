package region

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fixedInstant = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func TestSelectEastCoastTable(t *testing.T) {
	for tz := range eastCoast {
		t.Run(tz, func(t *testing.T) {
			assert.Equal(t, USEast1, SelectAt(tz, fixedInstant))
		})
	}
}

func TestSelectByContinent(t *testing.T) {
	tests := []struct {
		timezone string
		expected Region
	}{
		{"America/Los_Angeles", USWest2},
		{"America/Chicago", USWest2},
		{"US/Pacific", USWest2},
		{"Canada/Mountain", USWest2},
		{"Europe/Berlin", EUCentral1},
		{"Africa/Lagos", EUCentral1},
		{"Asia/Tokyo", APSoutheast1},
		{"Australia/Sydney", APSoutheast1},
		{"Pacific/Auckland", APSoutheast1},
	}

	for _, tt := range tests {
		t.Run(tt.timezone, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectAt(tt.timezone, fixedInstant))
		})
	}
}

func TestSelectByOffset(t *testing.T) {
	tests := []struct {
		timezone string
		expected Region
	}{
		{"Etc/GMT+5", USWest2},
		{"Etc/GMT+4", USWest2},
		{"Etc/GMT+3", EUCentral1},
		{"UTC", EUCentral1},
		{"Atlantic/Reykjavik", EUCentral1},
		{"Etc/GMT-4", EUCentral1},
		{"Etc/GMT-5", APSoutheast1},
		{"Indian/Maldives", APSoutheast1},
		{"Etc/GMT-12", APSoutheast1},
	}

	for _, tt := range tests {
		t.Run(tt.timezone, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectAt(tt.timezone, fixedInstant))
		})
	}
}

func TestSelectFallsBackToDefault(t *testing.T) {
	for _, tz := range []string{"", "   ", "Not/AZone", "garbage", "Mars/Olympus_Mons"} {
		assert.Equal(t, Default, SelectAt(tz, fixedInstant), "timezone %q", tz)
	}
	assert.Equal(t, USWest2, Default)
}

func TestOffsetRangesCoverFullSpan(t *testing.T) {
	for hours := -24; hours <= 24; hours++ {
		matches := 0
		for _, r := range offsetRanges {
			if hours >= r.min && hours <= r.max {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "offset %d must belong to exactly one range", hours)

		_, ok := ForOffset(hours)
		assert.True(t, ok, "offset %d", hours)
	}

	_, ok := ForOffset(25)
	assert.False(t, ok)
	_, ok = ForOffset(-25)
	assert.False(t, ok)
}

func TestOffsetBoundaries(t *testing.T) {
	tests := []struct {
		hours    int
		expected Region
	}{
		{-24, USWest2},
		{-4, USWest2},
		{-3, EUCentral1},
		{4, EUCentral1},
		{5, APSoutheast1},
		{24, APSoutheast1},
	}

	for _, tt := range tests {
		region, ok := ForOffset(tt.hours)
		assert.True(t, ok)
		assert.Equal(t, tt.expected, region, "offset %d", tt.hours)
	}
}

func TestSelectAlwaysReturnsKnownRegion(t *testing.T) {
	inputs := []string{"", "UTC", "America/New_York", "Europe/Paris", "Antarctica/Troll", "Etc/GMT-14", "../../etc/passwd", "\x00"}

	var wg sync.WaitGroup
	for _, tz := range inputs {
		wg.Add(1)
		go func(tz string) {
			defer wg.Done()
			assert.Contains(t, Known(), Select(tz))
		}(tz)
	}
	wg.Wait()
}
