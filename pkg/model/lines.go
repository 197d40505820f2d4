package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxLineNumber is the largest line a class file line table can hold.
const MaxLineNumber = 0xFFFF

// FormatLineRanges renders line numbers in the compact "1,7-12,33" form.
// Input order and duplicates do not matter.
func FormatLineRanges(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	sorted := append([]int(nil), lines...)
	sort.Ints(sorted)

	var sb strings.Builder
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(start))
		if prev != start {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(prev))
		}
	}
	for _, nr := range sorted[1:] {
		if nr == prev {
			continue
		}
		if nr == prev+1 {
			prev = nr
			continue
		}
		flush()
		start, prev = nr, nr
	}
	flush()
	return sb.String()
}

// ParseLineRanges parses the "1,7-12,33" form back into sorted line numbers.
func ParseLineRanges(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var lines []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid line range %q: %w", part, err)
		}
		to := from
		if isRange {
			if to, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("invalid line range %q: %w", part, err)
			}
		}
		if to < from {
			return nil, fmt.Errorf("invalid line range %q: end before start", part)
		}
		if from < 1 || to > MaxLineNumber {
			return nil, fmt.Errorf("invalid line range %q: lines must be within 1-%d", part, MaxLineNumber)
		}
		if len(lines)+to-from+1 > MaxLineNumber {
			return nil, fmt.Errorf("invalid line ranges: more than %d lines", MaxLineNumber)
		}
		for nr := from; nr <= to; nr++ {
			lines = append(lines, nr)
		}
	}
	sort.Ints(lines)
	return lines, nil
}
