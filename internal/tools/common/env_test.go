package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileMissingIsNoop(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadEnvFileLoadsAndPreservesExisting(t *testing.T) {
	t.Setenv("SSOCTL_EXISTING_KEY", "from-env")
	file := filepath.Join(t.TempDir(), "test.env")
	content := "# comment\nSSOCTL_EXISTING_KEY=from-file\nSSOCTL_NEW_KEY=hello\nSSOCTL_QUOTED=\"x\"\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("SSOCTL_NEW_KEY")
		_ = os.Unsetenv("SSOCTL_QUOTED")
	})

	if err := LoadEnvFile(file); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("SSOCTL_EXISTING_KEY"); got != "from-env" {
		t.Fatalf("expected existing var to be preserved, got %q", got)
	}
	if got := os.Getenv("SSOCTL_NEW_KEY"); got != "hello" {
		t.Fatalf("unexpected SSOCTL_NEW_KEY=%q", got)
	}
	if got := os.Getenv("SSOCTL_QUOTED"); got != "x" {
		t.Fatalf("unexpected SSOCTL_QUOTED=%q", got)
	}
}

func TestLoadEnvFileOpenError(t *testing.T) {
	if err := LoadEnvFile(t.TempDir()); err == nil {
		t.Fatal("expected error when path is a directory")
	}
}

func TestNewCIResult(t *testing.T) {
	ok := NewCIResult(true, "seed", nil, nil)
	if !ok.OK || ok.Details == nil || ok.Error != "" {
		t.Fatalf("unexpected success result %+v", ok)
	}
	failed := NewCIResult(false, "seed", []string{"roles=8"}, errors.New("boom"))
	if failed.OK || failed.Error != "boom" || len(failed.Details) != 1 {
		t.Fatalf("unexpected failure result %+v", failed)
	}
}

func TestExitWrapsCode(t *testing.T) {
	if Exit(ExitStore, nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	base := errors.New("db down")
	err := Exit(ExitStore, base)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != ExitStore || !errors.Is(err, base) {
		t.Fatalf("unexpected exit error %#v", err)
	}
}
