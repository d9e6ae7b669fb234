package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/miradorstack/crashguard/internal/history"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")
	cfgPath := filepath.Join(dir, "crashguard.yaml")
	body := "store:\n  backend: sqlite\n  path: " + dbPath + "\nlogging:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func TestCountersListAndReset(t *testing.T) {
	cfgPath, dbPath := sqliteConfig(t)
	store, err := history.OpenSQLite(dbPath, history.DefaultNamespace, 0)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "2.3", 2); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "1.9", 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = store.Close()

	out, err := runCLI(t, "--config", cfgPath, "counters", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "1.9") || !strings.HasPrefix(lines[2], "2.3") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	if _, err := runCLI(t, "--config", cfgPath, "counters", "reset", "2.3"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err = runCLI(t, "--config", cfgPath, "counters", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, "2.3") {
		t.Fatalf("expected 2.3 to be reset:\n%s", out)
	}
}

func TestClassifyTrace(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)
	trace := filepath.Join(t.TempDir(), "crash.txt")
	body := `Exception in thread "main" java.lang.IllegalAccessError: Class ref in pre-verified class resolved to unexpected implementation
	at de.robv.android.xposed.XposedBridge.handleHookedMethod(XposedBridge.java:631)
`
	if err := os.WriteFile(trace, []byte(body), 0o600); err != nil {
		t.Fatalf("write trace: %v", err)
	}

	out, err := runCLI(t, "--config", cfgPath, "classify", trace)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	for _, want := range []string{
		"signature: xposed-bridge (xposed)",
		"precise: disable_and_notify(hook-framework-confirmed)",
		"opaque: disable_and_notify(hook-framework-suspected)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestClassifyWithoutCrash(t *testing.T) {
	cfgPath, _ := sqliteConfig(t)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("all good\n"))
	cmd.SetArgs([]string{"--config", cfgPath, "classify", "-"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !strings.Contains(out.String(), "no crash report found") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSuperviseRequiresCommand(t *testing.T) {
	if _, err := runCLI(t, "supervise"); err == nil {
		t.Fatalf("expected an error without a command")
	}
}
