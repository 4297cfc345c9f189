/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version holds the build version and polls GitHub for newer releases.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/kith/internal/telemetry"
)

// Version is overridden at build time:
//
//	-X github.com/friendsincode/kith/internal/version.Version=X.Y.Z
var Version = "0.4.0"

const (
	releaseURL    = "https://api.github.com/repos/friendsincode/kith/releases/latest"
	checkInterval = 6 * time.Hour
	maxNotesLen   = 200
)

// UpdateInfo is the result of the most recent release check.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	CheckedAt       time.Time `json:"checked_at,omitempty"`
}

type release struct {
	TagName    string `json:"tag_name"`
	HTMLURL    string `json:"html_url"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// Checker polls the latest GitHub release. The zero value is not usable; use NewChecker.
type Checker struct {
	logger     zerolog.Logger
	httpClient *http.Client
	releaseURL string
	interval   time.Duration

	mu   sync.RWMutex
	info UpdateInfo
	etag string
}

// NewChecker creates a checker for the running version.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		logger:     logger.With().Str("component", "update-checker").Logger(),
		httpClient: telemetry.HTTPClient(10 * time.Second),
		releaseURL: releaseURL,
		interval:   checkInterval,
		info:       UpdateInfo{CurrentVersion: Version},
	}
}

// Run checks immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.check(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// Info returns a copy of the latest result.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// check never fails loudly: an unreachable GitHub only means no update notice.
func (c *Checker) check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseURL, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("build release request")
		return
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "Kith/"+Version)

	c.mu.RLock()
	etag := c.etag
	c.mu.RUnlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fetch latest release")
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		c.mu.Lock()
		c.info.CheckedAt = time.Now()
		c.mu.Unlock()
		return
	default:
		c.logger.Debug().Int("status", resp.StatusCode).Msg("unexpected release status")
		return
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		c.logger.Debug().Err(err).Msg("decode release")
		return
	}
	if rel.Draft || rel.Prerelease {
		return
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: compareVersions(Version, latest) < 0,
		ReleaseURL:      rel.HTMLURL,
		ReleaseNotes:    truncateNotes(rel.Body, maxNotesLen),
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.info = info
	c.etag = resp.Header.Get("ETag")
	c.mu.Unlock()

	if info.UpdateAvailable {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", rel.HTMLURL).
			Msg("new version available")
	}
}

// compareVersions orders two semver strings by major, minor and patch. Pre-release and build
// suffixes are ignored.
func compareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

// truncateNotes keeps the first line of the release notes, cut to maxLen.
func truncateNotes(s string, maxLen int) string {
	s, _, _ = strings.Cut(s, "\n")
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
