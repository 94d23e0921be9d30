package postgres

import (
	"strings"
	"testing"
	"time"
)

func TestBuildDSNFromFields(t *testing.T) {
	got, err := buildDSN(ClientConfig{
		Host: "db", Port: 5432, Database: "ohlcv", User: "u", Password: "p",
		SSLMode: "disable", ConnectTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "postgres://u:p@db:5432/ohlcv?connect_timeout=5&sslmode=disable" {
		t.Fatalf("unexpected dsn: %s", got)
	}
}

func TestBuildDSNKeepsExplicitParams(t *testing.T) {
	got, err := buildDSN(ClientConfig{
		DSN:              "postgres://u@db/ohlcv?sslmode=require",
		SSLMode:          "disable",
		StatementTimeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "sslmode=require") || strings.Contains(got, "sslmode=disable") {
		t.Fatalf("sslmode overridden: %s", got)
	}
	if !strings.Contains(got, "statement_timeout=2000") {
		t.Fatalf("missing statement_timeout: %s", got)
	}
}

func TestNewClientRequiresTarget(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error without dsn or host")
	}
}
