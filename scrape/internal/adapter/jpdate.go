package adapter

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	reWeekDate  = regexp.MustCompile(`(\d{4})年(\d{1,2})月\s*第(\d)週`)
	reFullDate  = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	reMonthDate = regexp.MustCompile(`(\d{4})年(\d{1,2})月`)
)

// ParseReleaseDate converts a Japanese release announcement into
// "YYYY-MM-DD". Manufacturers announce a full date ("2026年4月12日"), a
// week ("2026年4月 第2週", resolved to the first Sunday falling in that
// week), or a bare month ("2026年4月", resolved to the 1st). Returns ""
// when no date is present.
func ParseReleaseDate(text string) string {
	if m := reWeekDate.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		week, _ := strconv.Atoi(m[3])
		if d, ok := firstSundayInWeek(year, time.Month(month), week); ok {
			return d.Format("2006-01-02")
		}
		// Week overflows the month: fall back to the 1st.
		return fmt.Sprintf("%04d-%02d-01", year, month)
	}
	if m := reFullDate.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if int(d.Month()) == month && d.Day() == day {
			return d.Format("2006-01-02")
		}
		return ""
	}
	if m := reMonthDate.FindStringSubmatch(text); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			return fmt.Sprintf("%04d-%02d-01", year, month)
		}
	}
	return ""
}

// firstSundayInWeek finds the first Sunday within week n of the month,
// where week n spans days (n-1)*7+1 through n*7.
func firstSundayInWeek(year int, month time.Month, week int) (time.Time, bool) {
	if week < 1 || month < 1 || month > 12 {
		return time.Time{}, false
	}
	start := (week-1)*7 + 1
	for day := start; day < start+7; day++ {
		d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if d.Month() != month {
			return time.Time{}, false
		}
		if d.Weekday() == time.Sunday {
			return d, true
		}
	}
	return time.Time{}, false
}
