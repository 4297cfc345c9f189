/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/kith/internal/availability"
)

// StaticProvider serves a fixed busy list. It backs offline slot computation and tests.
type StaticProvider struct {
	mu      sync.Mutex
	Busy    []availability.BusyInterval
	Err     error
	Created []EventRequest
}

// BusyIntervals returns the configured intervals that overlap [from, to).
func (s *StaticProvider) BusyIntervals(_ context.Context, _ string, from, to time.Time) ([]availability.BusyInterval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []availability.BusyInterval
	for _, b := range s.Busy {
		if b.End.After(from) && b.Start.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// CreateEvent records the request.
func (s *StaticProvider) CreateEvent(_ context.Context, _ string, req EventRequest) (*CreatedEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Created = append(s.Created, req)
	return &CreatedEvent{ID: fmt.Sprintf("static-%d", len(s.Created))}, nil
}
