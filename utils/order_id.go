package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TempIDPrefix marks provisional client IDs. They are never an order of record.
const TempIDPrefix = "TEMP-"

const MaxDailySequence = 999

// GenerateOrderID builds the DDMMXXX order ID, e.g. "1401001" for the first
// order on January 14.
func GenerateOrderID(day, month, sequence int) (string, error) {
	if day < 1 || day > 31 {
		return "", fmt.Errorf("day must be 1-31, got %d", day)
	}
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month must be 1-12, got %d", month)
	}
	if sequence < 1 || sequence > MaxDailySequence {
		return "", fmt.Errorf("sequence must be 1-%d, got %d", MaxDailySequence, sequence)
	}
	return fmt.Sprintf("%02d%02d%03d", day, month, sequence), nil
}

// GenerateOrderIDForDateKey splits a DDMM date key and builds the ID.
func GenerateOrderIDForDateKey(dateKey, sequence int) (string, error) {
	return GenerateOrderID(dateKey/100, dateKey%100, sequence)
}

// DateKey returns DDMM as an integer: January 14 -> 1401.
func DateKey(t time.Time) int {
	return t.Day()*100 + int(t.Month())
}

func ValidDateKey(key int) bool {
	day, month := key/100, key%100
	return day >= 1 && day <= 31 && month >= 1 && month <= 12
}

// ParseOrderID extracts day, month and sequence from a DDMMXXX ID.
func ParseOrderID(id string) (day, month, sequence int, err error) {
	if len(id) != 7 {
		return 0, 0, 0, fmt.Errorf("invalid order ID length: expected 7, got %d", len(id))
	}
	if day, err = strconv.Atoi(id[0:2]); err != nil || day < 1 || day > 31 {
		return 0, 0, 0, fmt.Errorf("invalid day in order ID %q", id)
	}
	if month, err = strconv.Atoi(id[2:4]); err != nil || month < 1 || month > 12 {
		return 0, 0, 0, fmt.Errorf("invalid month in order ID %q", id)
	}
	if sequence, err = strconv.Atoi(id[4:7]); err != nil || sequence < 1 {
		return 0, 0, 0, fmt.Errorf("invalid sequence in order ID %q", id)
	}
	return day, month, sequence, nil
}

func DateKeyFromOrderID(id string) (int, error) {
	day, month, _, err := ParseOrderID(id)
	if err != nil {
		return 0, err
	}
	return day*100 + month, nil
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
