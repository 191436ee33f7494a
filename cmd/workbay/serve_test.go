package main

import (
	"context"
	"testing"

	"pkt.systems/workbay/internal/appconfig"
)

func TestBuildServerWithLocalAccounts(t *testing.T) {
	cfg, err := appconfig.DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.HomeRoot = t.TempDir()
	cfg.Identity.LocalAccounts = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, err := buildServer(ctx, cfg)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	if server.Service() == nil {
		t.Fatal("expected a wired service")
	}
}
