package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDirsAndListFeatures(t *testing.T) {
	root := t.TempDir()
	if err := EnsureDirs(root); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, dir := range []string{PathsFor(root).Features, PathsFor(root).Ledger} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Fatalf("missing %s: %v", dir, err)
		}
	}
	fp := FeaturePathsFor(root, "logs")
	if err := os.MkdirAll(fp.Live, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(PathsFor(root).Features, "Bad Name"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := ListFeatures(root)
	if err != nil || len(got) != 1 || got[0] != "logs" {
		t.Fatalf("features = %v, %v", got, err)
	}
}

func TestEnsureDirsRejectsSymlink(t *testing.T) {
	root := t.TempDir()
	target := t.TempDir()
	if err := os.MkdirAll(PathsFor(root).State, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, PathsFor(root).Ledger); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := EnsureDirs(root); err == nil {
		t.Fatalf("expected symlink rejection")
	}
}

func TestValidateFeatureName(t *testing.T) {
	for _, ok := range []string{"logs", "rum", "session-replay", "tracing.v2"} {
		if err := ValidateFeatureName(ok); err != nil {
			t.Fatalf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "../etc", "Logs", "a/b"} {
		if err := ValidateFeatureName(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}
