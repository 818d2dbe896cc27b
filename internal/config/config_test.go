package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"commitline/internal/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default("site-1")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Project.ID != "site-1" {
		t.Fatalf("project id not applied: %s", cfg.Project.ID)
	}
	for _, typ := range []string{"Access", "Materials", "Permits", "Plant or equipment", "Other"} {
		if !cfg.KnownConstraintType(typ) {
			t.Fatalf("default catalog missing %q", typ)
		}
	}
	if cfg.KnownConstraintType("Vibes") {
		t.Fatalf("unknown type must not match")
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing project id", "project:\n  kind: production-control\nconstraints:\n  catalog:\n    Access: {}\n"},
		{"wrong kind", "project:\n  id: p\n  kind: tracker\nconstraints:\n  catalog:\n    Access: {}\n"},
		{"empty catalog", "project:\n  id: p\n  kind: production-control\nconstraints:\n  catalog: {}\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "commitline.yml"), []byte(config.GenerateDefault("site-2")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Project.ID != "site-2" {
		t.Fatalf("unexpected project id %s", cfg.Project.ID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatalf("missing config must error")
	}
	cfg, err := config.LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("optional load of missing file should be nil,nil; got %v, %v", cfg, err)
	}
}
