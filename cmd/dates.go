package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/wayback-news-archiver/internal/clock/system"
)

// appNow is the wall clock used to resolve relative dates.
var appNow = system.New().Now

var dateLayouts = []string{"2006-01-02", "20060102"}

// parseDate accepts YYYY-MM-DD or YYYYMMDD and returns midnight UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or YYYYMMDD", s)
}

// dateSelection is the raw date flags of a command.
type dateSelection struct {
	date     string
	start    string
	end      string
	backdays int
}

// resolve turns the flags into an inclusive range. With nothing set the range
// is today only; --backdays N covers the N days ending today.
func (s dateSelection) resolve(now time.Time) (time.Time, time.Time, error) {
	today := system.Midnight(now)

	set := 0
	for _, v := range []bool{s.date != "", s.start != "" || s.end != "", s.backdays != 0} {
		if v {
			set++
		}
	}
	if set > 1 {
		return time.Time{}, time.Time{}, errors.New("use only one of --date, --start/--end or --backdays")
	}

	switch {
	case s.date != "":
		day, err := parseDate(s.date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return day, day, nil
	case s.backdays < 0:
		return time.Time{}, time.Time{}, fmt.Errorf("--backdays must be positive, got %d", s.backdays)
	case s.backdays > 0:
		return today.AddDate(0, 0, -(s.backdays - 1)), today, nil
	case s.start != "" || s.end != "":
		if s.start == "" {
			return time.Time{}, time.Time{}, errors.New("--end requires --start")
		}
		start, err := parseDate(s.start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end := today
		if s.end != "" {
			if end, err = parseDate(s.end); err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
		if end.Before(start) {
			return time.Time{}, time.Time{}, fmt.Errorf("start %s is after end %s",
				start.Format("2006-01-02"), end.Format("2006-01-02"))
		}
		return start, end, nil
	default:
		return today, today, nil
	}
}
