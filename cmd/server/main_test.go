package main

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"posledger/internal/config"
	"posledger/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewRepositoryFallsBackToMemoryWithoutDatabaseURL(t *testing.T) {
	logger, hook := test.NewNullLogger()

	repo, err := newRepository(context.Background(), config.Config{}, logger)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", repo)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Message != "repository: in-memory" {
		t.Fatalf("expected repository log line, got %+v", entry)
	}
}
