package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"version"}, &out); err != nil {
		t.Fatalf("run(version) error: %v", err)
	}
	if !strings.HasPrefix(out.String(), "split-backend v") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_HashKey(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"hash-key", "operator-secret"}, &out); err != nil {
		t.Fatalf("run(hash-key) error: %v", err)
	}
	hash := strings.TrimSpace(out.String())
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("operator-secret")); err != nil {
		t.Errorf("printed hash does not match key: %v", err)
	}
}

func TestRun_HashKeyMissingArgument(t *testing.T) {
	if err := run([]string{"hash-key"}, &bytes.Buffer{}); err == nil {
		t.Error("run(hash-key) = nil error, want usage error")
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	err := run([]string{"migrate"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("run(migrate) error = %v, want unknown command", err)
	}
}

func TestRun_ArchiveLocal(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "transactions.json")
	if err := os.WriteFile(auditPath, []byte(`[{"id":"acct_1","type":"account","status":"created"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SPLIT_AUDIT_PATH", auditPath)
	t.Setenv("SPLIT_ARCHIVE_DEFAULT_BACKEND", "local")
	t.Setenv("SPLIT_ARCHIVE_LOCAL_BASE_PATH", filepath.Join(dir, "archive"))
	t.Setenv("SPLIT_ARCHIVE_PREFIX", "snapshots")

	var out bytes.Buffer
	if err := run([]string{"archive"}, &out); err != nil {
		t.Fatalf("run(archive) error: %v", err)
	}
	if !strings.Contains(out.String(), "archived 1 entries to local:snapshots/transactions-") {
		t.Errorf("output = %q", out.String())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "archive", "snapshots", "transactions-*.json"))
	if len(matches) != 1 {
		t.Errorf("found %d snapshots, want 1", len(matches))
	}
}
