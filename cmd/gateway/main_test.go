package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fitcoach-gateway/internal/auth"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("gateway %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func sqliteConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := "sqlite:\n  path: " + filepath.Join(dir, "fitcoach.db") + "\n" +
		"quota:\n  backend: sqlite\n  daily_limit: 5\n" +
		"entitlements:\n  backend: sqlite\n" +
		"auth:\n  jwt_secret: cli-secret\n  issuer: fitcoach\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTokenCommand(t *testing.T) {
	cfg := sqliteConfig(t)

	token := strings.TrimSpace(runCLI(t, "token", "u1", "--role", "admin", "-c", cfg))

	v, err := auth.NewVerifier("cli-secret", "fitcoach")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	subject, err := v.Verify(token)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if subject.ID != "u1" || !subject.IsAdmin() {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestEntitlementAndUsageCommands(t *testing.T) {
	cfg := sqliteConfig(t)

	out := runCLI(t, "entitlement", "u1", "--tier", "free", "--trial", "72h", "-c", cfg)
	if !strings.Contains(out, "active=true") {
		t.Fatalf("trial should make the subject active: %q", out)
	}

	out = runCLI(t, "usage", "u1", "-c", cfg)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("unexpected usage output: %q", out)
	}
	fields := strings.Fields(lines[1])
	if fields[0] != "u1" || fields[2] != "0" || fields[3] != "5" || fields[4] != "5" {
		t.Fatalf("unexpected usage row: %q", lines[1])
	}
}
