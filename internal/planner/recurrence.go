/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences bounds NextOccurrences.
const MaxOccurrences = 52

// ParseRecurrence validates an RRULE, accepting an optional "RRULE:" prefix, and returns
// the rule without the prefix.
func ParseRecurrence(rule string) (string, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(rule, "RRULE:")
	if rule == "" {
		return "", nil
	}
	if _, err := rrule.StrToRRule(rule); err != nil {
		return "", fmt.Errorf("%w: recurrence: %v", ErrInvalidRequest, err)
	}
	return rule, nil
}

// NextOccurrences returns up to n occurrences of rule anchored at dtstart that fall
// strictly after after. An empty rule yields dtstart alone when it is still upcoming.
func NextOccurrences(rule string, dtstart, after time.Time, n int) ([]time.Time, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > MaxOccurrences {
		n = MaxOccurrences
	}

	rule = strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:")
	if rule == "" {
		if dtstart.After(after) {
			return []time.Time{dtstart}, nil
		}
		return []time.Time{}, nil
	}

	rr, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: recurrence: %v", ErrInvalidRequest, err)
	}
	rr.DTStart(dtstart)

	out := make([]time.Time, 0, n)
	cursor := after
	for len(out) < n {
		next := rr.After(cursor, false)
		if next.IsZero() {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}
