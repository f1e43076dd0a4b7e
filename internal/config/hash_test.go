package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockDryRun(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "service:\n  name: x\n")

	report, err := Lock(dir, true)
	if err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if report.Written {
		t.Fatal("report.Written = true, want false in dry-run")
	}
	if len(report.Files) != 1 || !report.Files[0].Exists || report.Files[0].Hash == "" {
		t.Fatalf("unexpected report files: %+v", report.Files)
	}
	if _, err := os.Stat(filepath.Join(dir, ChecksumFileName)); !os.IsNotExist(err) {
		t.Fatal(".checksums should not be written in dry-run mode")
	}
}

func TestGenerateChecksumsReportsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")

	report, err := GenerateChecksumsWithReport(dir, []string{ConfigFileName, "absent.yaml"}, false)
	if err != nil {
		t.Fatalf("GenerateChecksumsWithReport() failed: %v", err)
	}
	if !report.Written {
		t.Fatal("report.Written = false, want true")
	}
	if report.Files[1].Exists || report.Files[1].Hash != "" {
		t.Fatal("absent.yaml should be reported as missing without hash")
	}

	manifest, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if len(manifest.Hashes) != 1 {
		t.Fatalf("len(manifest.Hashes) = %d, want 1", len(manifest.Hashes))
	}
}

func TestLoadVerifiesLockedConfig(t *testing.T) {
	t.Setenv("PORT", "")
	dir := t.TempDir()
	path := writeConfig(t, dir, "service:\n  name: locked\n")

	if _, err := Lock(path, false); err != nil {
		t.Fatalf("Lock() failed: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "hash mismatch") {
		t.Fatalf("Load() error = %v, want hash mismatch", err)
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	_, err := LoadChecksums(t.TempDir())
	if !errors.Is(err, ErrChecksumsMissing) {
		t.Fatalf("err = %v, want ErrChecksumsMissing", err)
	}
}

func TestLoadChecksumsRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ChecksumFileName), []byte("version: 2\nhashes: {}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadChecksums(dir); err == nil {
		t.Fatal("expected version error")
	}
}
