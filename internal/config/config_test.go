package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/google/go-cmp/cmp"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestDefaults(t *testing.T) {
	config, err := Parse(nil, env(nil))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := Config{
		Addr:             ":3001",
		Store:            "sqlite",
		DSN:              "./data/docworld.db",
		AutosaveInterval: 5 * time.Second,
		CreationTTL:      24 * time.Hour,
		Rate:             100,
		Burst:            200,
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestPrecedence(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		vars map[string]string
		want string
	}{
		{"flag wins", []string{"--addr=:9000"}, map[string]string{"DOCWORLD_ADDR": ":8000", "PORT": "7000"}, ":9000"},
		{"env over PORT", nil, map[string]string{"DOCWORLD_ADDR": ":8000", "PORT": "7000"}, ":8000"},
		{"PORT as port number", nil, map[string]string{"PORT": "7000"}, ":7000"},
		{"default", nil, nil, ":3001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := Parse(tt.argv, env(tt.vars))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			assert.Equal(t, config.Addr, tt.want)
		})
	}
}

func TestEnvironment(t *testing.T) {
	config, err := Parse(nil, env(map[string]string{
		"DOCWORLD_STORE":               "redis",
		"DOCWORLD_DSN":                 "redis://localhost:6379/0",
		"DOCWORLD_AUTOSAVE_INTERVAL":   "250ms",
		"DOCWORLD_ALLOW_CLIENT_CREATE": "true",
		"DOCWORLD_ORIGINS":             "http://a.example, http://b.example,",
		"DOCWORLD_RATE":                "2.5",
		"DOCWORLD_VERBOSITY":           "2",
	}))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	assert.Equal(t, config.Store, "redis")
	assert.Equal(t, config.DSN, "redis://localhost:6379/0")
	assert.Equal(t, config.AutosaveInterval, 250*time.Millisecond)
	assert.Equal(t, config.AllowClientCreate, true)
	assert.Equal(t, config.Origins, []string{"http://a.example", "http://b.example"})
	assert.Equal(t, config.Rate, 2.5)
	assert.Equal(t, config.Verbosity, 2)
}

func TestFlags(t *testing.T) {
	config, err := Parse([]string{
		"--store=postgres",
		"--dsn=postgres://localhost/docworld",
		"--creation_secret=s3cret",
		"--creation_ttl=1h",
		"--allow_client_create",
		"--burst=10",
	}, env(nil))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	assert.Equal(t, config.Store, "postgres")
	assert.Equal(t, config.DSN, "postgres://localhost/docworld")
	assert.Equal(t, config.CreationSecret, "s3cret")
	assert.Equal(t, config.CreationTTL, time.Hour)
	assert.Equal(t, config.AllowClientCreate, true)
	assert.Equal(t, config.Burst, 10)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		vars map[string]string
	}{
		{"bad duration", []string{"--autosave=soon"}, nil},
		{"zero autosave", []string{"--autosave=0s"}, nil},
		{"bad rate", nil, map[string]string{"DOCWORLD_RATE": "fast"}},
		{"bad burst", []string{"--burst=many"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.argv, env(tt.vars)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
