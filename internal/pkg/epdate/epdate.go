// Copyright (c) 2026, the harvestarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package epdate parses the ordinal episode dates embedded in episode
// titles ("12th January 2026") and manifest file names
// ("Episode_12th_January_2026.m3u8").
package epdate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	titleRe    = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)? ([A-Za-z]+) (\d{4})`)
	fileNameRe = regexp.MustCompile(`(?i)(\d{1,2})(?:st|nd|rd|th)_([A-Za-z]+)_(\d{4})`)
)

var months = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

// FromTitle extracts a date of the form "12th January 2026" (ordinal suffix
// optional, month name or three-letter abbreviation) from an episode title.
func FromTitle(title string) (time.Time, bool) {
	return parse(titleRe.FindStringSubmatch(title))
}

// FromFileName extracts a date of the form "12th_January_2026" from a
// manifest file name.
func FromFileName(name string) (time.Time, bool) {
	return parse(fileNameRe.FindStringSubmatch(name))
}

func parse(match []string) (time.Time, bool) {
	if match == nil {
		return time.Time{}, false
	}

	day, err := strconv.Atoi(match[1])
	if err != nil {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(match[2])]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(match[3])
	if err != nil {
		return time.Time{}, false
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// Reject impossible days that time.Date would silently normalize.
	if date.Day() != day || date.Month() != month {
		return time.Time{}, false
	}
	return date, true
}
