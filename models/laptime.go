package models

import (
	"fmt"
	"regexp"
	"strconv"
)

var lapTimePattern = regexp.MustCompile(`^(\d+):(\d{1,2})\.(\d{1,3})$`)

// ParseLapTime parses "M:SS.mmm" into milliseconds. The fraction may have
// 1-3 digits ("1:02.5" is 1:02.500); seconds above 59 are rejected.
func ParseLapTime(s string) (int, bool) {
	m := lapTimePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	seconds, _ := strconv.Atoi(m[2])
	millis, _ := strconv.Atoi(m[3])
	switch len(m[3]) {
	case 1:
		millis *= 100
	case 2:
		millis *= 10
	}
	if seconds > 59 {
		return 0, false
	}
	return minutes*60_000 + seconds*1000 + millis, true
}

// FormatLapTime renders milliseconds as M:SS.mmm.
func FormatLapTime(ms int) string {
	return fmt.Sprintf("%d:%02d.%03d", ms/60_000, (ms%60_000)/1000, ms%1000)
}
