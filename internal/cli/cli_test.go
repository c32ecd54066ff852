package cli

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"echotome/internal/afkdf"
)

func TestReporter(t *testing.T) {
	t.Run("NewReporter", func(t *testing.T) {
		r := NewReporter(false)
		if r == nil {
			t.Fatal("NewReporter returned nil")
		}
		if r.quiet {
			t.Error("quiet should be false")
		}

		r = NewReporter(true)
		if !r.quiet {
			t.Error("quiet should be true")
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		r := NewReporter(false)
		r.SetStatus("test status")
		if r.status != "test status" {
			t.Errorf("expected 'test status', got %q", r.status)
		}
	})

	t.Run("SetProgress", func(t *testing.T) {
		r := NewReporter(false)
		r.SetProgress(0.5, "50%")
		if r.progress != 0.5 {
			t.Errorf("expected progress 0.5, got %f", r.progress)
		}
		if r.info != "50%" {
			t.Errorf("expected info '50%%', got %q", r.info)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		r := NewReporter(false)
		if r.IsCancelled() {
			t.Error("should not be cancelled initially")
		}
		r.Cancel()
		if !r.IsCancelled() {
			t.Error("should be cancelled after Cancel()")
		}
	})

	t.Run("SetCanCancel", func(t *testing.T) {
		r := NewReporter(false)
		r.SetCanCancel(true)
		r.SetCanCancel(false)
	})
}

func TestReporterOutput(t *testing.T) {
	t.Run("quiet mode suppresses output", func(t *testing.T) {
		r := NewReporter(true)
		r.SetStatus("test")
		r.SetProgress(0.5, "50%")

		old := os.Stderr
		rp, w, _ := os.Pipe()
		os.Stderr = w

		r.Update()
		r.Finish()

		w.Close()
		os.Stderr = old

		var buf bytes.Buffer
		buf.ReadFrom(rp)

		if buf.Len() != 0 {
			t.Errorf("quiet mode should not produce output, got: %q", buf.String())
		}
	})

	t.Run("PrintError always outputs", func(t *testing.T) {
		r := NewReporter(true)

		old := os.Stderr
		rp, w, _ := os.Pipe()
		os.Stderr = w

		r.PrintError("error message")

		w.Close()
		os.Stderr = old

		var buf bytes.Buffer
		buf.ReadFrom(rp)

		if !strings.Contains(buf.String(), "error message") {
			t.Errorf("PrintError should always output, got: %q", buf.String())
		}
	})
}

func TestParseProfile(t *testing.T) {
	cases := []struct {
		name string
		want afkdf.Profile
		ok   bool
	}{
		{"QuickLock", afkdf.QuickLock, true},
		{"RitualLock", afkdf.RitualLock, true},
		{"BlackVault", afkdf.BlackVault, true},
		{"NotAProfile", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseProfile(tc.name)
		if ok != tc.ok {
			t.Errorf("parseProfile(%q) ok = %v, want %v", tc.name, ok, tc.ok)
		}
		if ok && got != tc.want {
			t.Errorf("parseProfile(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestLoadSamplesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ritual.raw")
	want := []float64{0.0, 0.5, -0.5, 1.0, -1.0}

	buf := make([]byte, len(want)*8)
	for i, v := range want {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := loadSamplesFile(path)
	if err != nil {
		t.Fatalf("loadSamplesFile: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadSamplesFileRejectsMisalignedLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.raw")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSamplesFile(path); err == nil {
		t.Error("expected error for misaligned sample file length")
	}
}

func TestEnrollValidation(t *testing.T) {
	t.Run("missing input", func(t *testing.T) {
		enrollInput = ""
		cmd := enrollCmd
		err := cmd.RunE(cmd, []string{})
		if err == nil {
			t.Error("expected error for missing input")
		}
		if !strings.Contains(err.Error(), "input") {
			t.Errorf("error should mention input: %v", err)
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "test.txt")
		if err := os.WriteFile(tmpFile, []byte("test"), 0o644); err != nil {
			t.Fatal(err)
		}
		enrollInput = tmpFile
		enrollProfile = "NotAProfile"
		cmd := enrollCmd
		err := cmd.RunE(cmd, []string{})
		if err == nil {
			t.Error("expected error for unknown profile")
		}
		if !strings.Contains(err.Error(), "profile") {
			t.Errorf("error should mention profile: %v", err)
		}
		enrollProfile = "RitualLock"
	})
}

func TestUnlockValidation(t *testing.T) {
	t.Run("missing vault id", func(t *testing.T) {
		unlockVaultID = ""
		cmd := unlockCmd
		err := cmd.RunE(cmd, []string{})
		if err == nil {
			t.Error("expected error for missing vault id")
		}
		if !strings.Contains(err.Error(), "vault") {
			t.Errorf("error should mention vault: %v", err)
		}
	})
}

func TestLockValidation(t *testing.T) {
	t.Run("no unlocked session", func(t *testing.T) {
		cmd := lockCmd
		err := cmd.RunE(cmd, []string{"nonexistent-vault-id"})
		if err == nil {
			t.Error("expected error for nonexistent session")
		}
	})
}

func TestStatusValidation(t *testing.T) {
	t.Run("missing vault metadata", func(t *testing.T) {
		cmd := statusCmd
		err := cmd.RunE(cmd, []string{"nonexistent-vault-id"})
		if err == nil {
			t.Error("expected error for nonexistent vault metadata")
		}
	})
}

func TestVersionFlag(t *testing.T) {
	Version = "v1.0.0"
	if rootCmd.Version != "v1.0.0" {
		rootCmd.Version = Version
	}
	if rootCmd.Version != "v1.0.0" {
		t.Errorf("expected version v1.0.0, got %s", rootCmd.Version)
	}
}
