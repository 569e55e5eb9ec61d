package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/landwatch/landwatch/internal/netutil"
)

const webshareSample = `{
  "count": 4,
  "results": [
    {"proxy_address": "198.51.100.10", "port": 8080, "username": "u1", "password": "p1", "valid": true, "country_code": "US"},
    {"proxy_address": "198.51.100.11", "port": 8081, "username": "u2", "password": "p2", "valid": false, "country_code": "DE"},
    {"proxy_address": "", "port": 8082, "username": "u3", "password": "p3", "valid": true, "country_code": "FR"},
    {"proxy_address": "198.51.100.13", "port": 8083, "username": "u4", "password": "p4", "valid": true, "country_code": "GB"}
  ]
}`

func testWebshare(t *testing.T, handler http.HandlerFunc) *Webshare {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Webshare{
		Token:  "secret-token",
		URL:    srv.URL,
		Client: netutil.NewClient(time.Second),
	}
}

func TestWebshareFetchMapsValidProxies(t *testing.T) {
	var gotAuth string
	w := testWebshare(t, func(rw http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		rw.Header().Set("Content-Type", "application/json")
		_, _ = rw.Write([]byte(webshareSample))
	})

	entries, err := w.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if gotAuth != "Token secret-token" {
		t.Fatalf("Authorization: got %q, want %q", gotAuth, "Token secret-token")
	}

	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2 (invalid and address-less skipped)", len(entries))
	}
	first := entries[0]
	if first.Server != "http://198.51.100.10:8080" {
		t.Fatalf("server: got %q, want %q", first.Server, "http://198.51.100.10:8080")
	}
	if first.Username != "u1" || first.Password != "p1" {
		t.Fatalf("credentials: got %q/%q, want u1/p1", first.Username, first.Password)
	}
	if entries[1].Server != "http://198.51.100.13:8083" {
		t.Fatalf("second server: got %q", entries[1].Server)
	}
}

func TestWebshareFetchStatusError(t *testing.T) {
	w := testWebshare(t, func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
	})

	if _, err := w.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestWebshareFetchEmptyResults(t *testing.T) {
	w := testWebshare(t, func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte(`{"count":0,"results":[]}`))
	})

	entries, err := w.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries: got %d, want 0", len(entries))
	}
}
