package model

import (
	"fmt"
	"strconv"
	"strings"
)

// TFLabel renders a timeframe in seconds as "30s", "5m", "1h" or "1d".
func TFLabel(tf int) string {
	switch {
	case tf < 60 || tf%60 != 0:
		return strconv.Itoa(tf) + "s"
	case tf < 3600 || tf%3600 != 0:
		return strconv.Itoa(tf/60) + "m"
	case tf < 86400 || tf%86400 != 0:
		return strconv.Itoa(tf/3600) + "h"
	}
	return strconv.Itoa(tf/86400) + "d"
}

// ParseTF accepts a plain number of seconds or a label such as "15m".
func ParseTF(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	mult := 1
	switch s[len(s)-1] {
	case 's':
		s = s[:len(s)-1]
	case 'm':
		mult, s = 60, s[:len(s)-1]
	case 'h':
		mult, s = 3600, s[:len(s)-1]
	case 'd':
		mult, s = 86400, s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	return n * mult, nil
}
