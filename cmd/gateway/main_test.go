package main

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"asset-gateway/middleware/domain"
)

func TestSignCommand_PrintsVerifiableURL(t *testing.T) {
	t.Setenv("BASE_URL", testOrigin)
	t.Setenv("URL_SIGNING_SECRET", "cli-secret")

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sign", "--asset", "a1", "--disp", "attachment", "--ttl", "10m"})
	if err := root.Execute(); err != nil {
		t.Fatalf("sign: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "expires: ") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !strings.HasPrefix(lines[0], testOrigin+"/assets/download?") {
		t.Fatalf("unexpected url %q", lines[0])
	}

	cfg, err := parseConfig(t)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	urls, err := loadSigner(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	tok, err := urls.VerifyURL(lines[0])
	if err != nil {
		t.Fatalf("printed url does not verify: %v", err)
	}
	if tok.ResourceID != "a1" || tok.DisplayMode != domain.DisplayAttachment {
		t.Fatalf("unexpected token %+v", tok)
	}
}

func TestSignCommand_RequiresAsset(t *testing.T) {
	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"sign"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without --asset")
	}
}

func TestSignCommand_ProductionWithoutSecretFails(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("BASE_URL", testOrigin)
	t.Setenv("URL_SIGNING_SECRET", "")

	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"sign", "--asset", "a1"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected error without URL_SIGNING_SECRET in production")
	}
}
