package store

import (
	"context"
	"os"
	"testing"
)

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DOCWORLD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCWORLD_TEST_POSTGRES_DSN not set")
	}

	s, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer s.Close()

	runStoreSuite(t, s)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("DOCWORLD_TEST_REDIS_URL")
	if url == "" {
		t.Skip("DOCWORLD_TEST_REDIS_URL not set")
	}

	s, err := NewRedis(context.Background(), url)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer s.Close()

	runStoreSuite(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), "mongo", ""); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
