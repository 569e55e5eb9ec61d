package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeRosterFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxies.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write roster file: %v", err)
	}
	return path
}

func TestFileProviderFetch(t *testing.T) {
	path := writeRosterFile(t, `proxies:
  - server: http://10.0.0.1:8080
    username: user
    password: pass
  - server: http://10.0.0.2:8080
`)

	p := &FileProvider{Path: path}
	entries, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Server != "http://10.0.0.1:8080" || entries[0].Username != "user" || entries[0].Password != "pass" {
		t.Fatalf("first entry: got %+v", entries[0])
	}
	if entries[1].Server != "http://10.0.0.2:8080" || entries[1].Username != "" {
		t.Fatalf("second entry: got %+v", entries[1])
	}
}

func TestFileProviderEmptyList(t *testing.T) {
	path := writeRosterFile(t, "proxies: []\n")

	p := &FileProvider{Path: path}
	entries, err := p.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries: got %d, want 0", len(entries))
	}
}

func TestFileProviderMissingServer(t *testing.T) {
	path := writeRosterFile(t, `proxies:
  - username: user
`)

	p := &FileProvider{Path: path}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for entry without server")
	}
}

func TestFileProviderMissingFile(t *testing.T) {
	p := &FileProvider{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileProviderMalformedYAML(t *testing.T) {
	path := writeRosterFile(t, "proxies: [unclosed\n")

	p := &FileProvider{Path: path}
	if _, err := p.Fetch(context.Background()); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
