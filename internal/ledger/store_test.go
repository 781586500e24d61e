package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bondtrace/bondtrace/internal/anchor"
	"github.com/bondtrace/bondtrace/internal/config"
)

// openTestStore creates a store backed by a temp-dir database. Shared by
// the write and resolve tests in this package.
func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpen_AppliesPragmas(t *testing.T) {
	st := openTestStore(t)

	checks := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, expected := range checks {
		if err := st.verifyPragma(name, expected); err != nil {
			t.Errorf("pragma check failed: %v", err)
		}
	}
}

func TestOpen_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	st1, err := Open(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	id, err := st1.CreateGuarantee(context.Background(), "G-001")
	if err != nil {
		t.Fatalf("create guarantee failed: %v", err)
	}
	st1.Close()

	st2, err := Open(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer st2.Close()

	var reference string
	err = st2.DB().QueryRow("SELECT reference FROM guarantees WHERE id = ?", id).Scan(&reference)
	if err != nil {
		t.Fatalf("query after reopen failed: %v", err)
	}
	if reference != "G-001" {
		t.Errorf("reference = %q, expected %q", reference, "G-001")
	}
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	st := openTestStore(t)

	var version int
	if err := st.DB().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version failed: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, expected %d", version, currentSchemaVersion)
	}
}

func TestOpen_DefaultPolicy(t *testing.T) {
	st := openTestStore(t)

	if st.Policy().Interval != anchor.DefaultInterval {
		t.Errorf("interval = %d, expected %d", st.Policy().Interval, anchor.DefaultInterval)
	}
	if st.TemplateVersion() != "1" {
		t.Errorf("template version = %q, expected %q", st.TemplateVersion(), "1")
	}
}

func TestOpen_WithSettings(t *testing.T) {
	st := openTestStore(t, WithSettings(config.Settings{
		AnchorInterval:  5,
		TemplateVersion: "7",
	}))

	if st.Policy().Interval != 5 {
		t.Errorf("interval = %d, expected 5", st.Policy().Interval)
	}
	if st.TemplateVersion() != "7" {
		t.Errorf("template version = %q, expected %q", st.TemplateVersion(), "7")
	}
}

func TestOpen_WithPolicy(t *testing.T) {
	st := openTestStore(t, WithPolicy(anchor.Policy{Interval: 3}))

	if st.Policy().Interval != 3 {
		t.Errorf("interval = %d, expected 3", st.Policy().Interval)
	}
}
