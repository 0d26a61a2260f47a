package main

import (
	"os"
	"path/filepath"
	"testing"

	"mentionrelay/internal/whatsapp"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	dbPath := whatsapp.SessionPath(src)
	if err := os.WriteFile(dbPath, []byte("db"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dbPath+"-wal", []byte("wal"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := createTarGz(archive, []string{dbPath, dbPath + "-wal"}); err != nil {
		t.Fatalf("createTarGz: %v", err)
	}

	dst := whatsapp.SessionPath(filepath.Join(t.TempDir(), "auth"))
	restored, err := extractTarGz(archive, dst)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("expected 2 restored files, got %v", restored)
	}

	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "db" {
		t.Errorf("database = %q, %v", data, err)
	}
	data, err = os.ReadFile(dst + "-wal")
	if err != nil || string(data) != "wal" {
		t.Errorf("wal = %q, %v", data, err)
	}
}

func TestExtractTarGz_NotGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.gz")
	os.WriteFile(path, []byte("plain text"), 0o600)

	if _, err := extractTarGz(path, filepath.Join(t.TempDir(), "session.db")); err == nil {
		t.Fatal("expected error for non-gzip input")
	}
}

func TestHumanSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := humanSize(tt.in); got != tt.want {
			t.Errorf("humanSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWizardChecks(t *testing.T) {
	if err := checkURL("https://hooks.example.com/in"); err != nil {
		t.Errorf("valid URL rejected: %v", err)
	}
	for _, bad := range []string{"ftp://x", "hooks.example.com", "http://"} {
		if checkURL(bad) == nil {
			t.Errorf("checkURL(%q) accepted", bad)
		}
	}
	if err := checkPortValue("3000"); err != nil {
		t.Errorf("valid port rejected: %v", err)
	}
	for _, bad := range []string{"-1", "70000", "abc"} {
		if checkPortValue(bad) == nil {
			t.Errorf("checkPortValue(%q) accepted", bad)
		}
	}
}
