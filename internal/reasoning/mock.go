/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reasoning

import (
	"context"
	"sync"
)

// MockClient is a test double for the Client interface.
type MockClient struct {
	mu       sync.Mutex
	Response *Response
	Err      error
	Calls    []string // records prompts sent
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, prompt string) (*Response, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	resp, err := m.Response, m.Err
	m.mu.Unlock()

	if err == nil && resp == nil {
		// Block until the caller gives up, to exercise timeouts.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return resp, err
}
