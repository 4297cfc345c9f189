package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"0.4.0", "0.4.0", 0},
		{"0.4.0", "v0.4.1", -1},
		{"1.0.0", "0.9.9", 1},
		{"0.10.0", "0.9.0", 1},
		{"0.4", "0.4.0", 0},
		{"0.5.0-rc1", "0.5.0", 0},
		{"garbage", "0.0.1", -1},
	}
	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Fatalf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTruncateNotes(t *testing.T) {
	if got := truncateNotes("First line\nsecond line", 200); got != "First line" {
		t.Fatalf("truncateNotes() = %q", got)
	}
	long := strings.Repeat("x", 50)
	if got := truncateNotes(long, 10); got != "xxxxxxx..." {
		t.Fatalf("truncateNotes(long) = %q", got)
	}
}

func TestCheck_ReportsNewerRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Kith/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.com/r","body":"Big release\nmore"}`))
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop())
	c.releaseURL = srv.URL
	c.check(context.Background())

	info := c.Info()
	if !info.UpdateAvailable || info.LatestVersion != "99.0.0" || info.ReleaseNotes != "Big release" {
		t.Fatalf("info = %+v", info)
	}
}

func TestCheck_KeepsInfoOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop())
	c.releaseURL = srv.URL
	c.check(context.Background())

	if info := c.Info(); info.UpdateAvailable || info.CurrentVersion != Version {
		t.Fatalf("info = %+v", info)
	}
}

func TestCheck_IgnoresPrereleaseAndHonorsETag(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.Header().Set("ETag", `"abc"`)
			_, _ = w.Write([]byte(`{"tag_name":"v99.0.0","html_url":"https://example.com/r","body":"notes"}`))
		case 2:
			if r.Header.Get("If-None-Match") != `"abc"` {
				t.Errorf("If-None-Match = %q", r.Header.Get("If-None-Match"))
			}
			w.WriteHeader(http.StatusNotModified)
		default:
			_, _ = w.Write([]byte(`{"tag_name":"v100.0.0-beta","prerelease":true}`))
		}
	}))
	defer srv.Close()

	c := NewChecker(zerolog.Nop())
	c.releaseURL = srv.URL
	for i := 0; i < 3; i++ {
		c.check(context.Background())
	}

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if info := c.Info(); info.LatestVersion != "99.0.0" || !info.UpdateAvailable {
		t.Fatalf("info = %+v, want the stable 99.0.0 release", info)
	}
}
