package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"specline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default("demo")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.Name != "demo" || cfg.Specs.Dir != config.DefaultSpecsDir || cfg.Server.Addr != config.DefaultAddr {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Server.DevLogin {
		t.Fatalf("dev login must be off by default")
	}
	if perms := cfg.RolePermissions([]string{"viewer", "worker"}); len(perms) != 3 {
		t.Fatalf("expected deduplicated permissions, got %v", perms)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	cases := map[string]string{
		"missing name":   "project: {}\n",
		"bad repo name":  "project: {name: x}\nrepos: [{name: 'a b', path: /tmp}]\n",
		"duplicate repo": "project: {name: x}\nrepos: [{name: a, path: /x}, {name: a, path: /y}]\n",
		"empty path":     "project: {name: x}\nrepos: [{name: a}]\n",
		"bad prefix":     "project: {name: x, prefix: '2026'}\n",
		"webhook url":    "project: {name: x}\nwebhooks: [{events: [spec.created]}]\n",
		"bad yaml":       "project: [\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := config.FromYAML([]byte(data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFromYAMLRepos(t *testing.T) {
	cfg, err := config.FromYAML([]byte("project: {name: x, prefix: web}\nrepos:\n  - name: backend\n    path: ~/src/backend\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r, ok := cfg.Repo("backend")
	if !ok || r.Path != "~/src/backend" {
		t.Fatalf("repo lookup failed: %+v", r)
	}
	if _, ok := cfg.Repo("frontend"); ok {
		t.Fatalf("unexpected repo")
	}
	if got := config.ExpandHome(r.Path, "/home/u"); got != filepath.Join("/home/u", "src/backend") {
		t.Fatalf("expand home: %s", got)
	}
	if got := config.ExpandHome("/abs", "/home/u"); got != "/abs" {
		t.Fatalf("absolute path changed: %s", got)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Project.Name != filepath.Base(dir) {
		t.Fatalf("default name should come from dir, got %s", cfg.Project.Name)
	}
	if _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "spl init") {
		t.Fatalf("expected init hint, got %v", err)
	}
	if err := os.WriteFile(config.Path(dir), []byte(config.GenerateDefault("written")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.Load(dir)
	if err != nil || cfg.Project.Name != "written" {
		t.Fatalf("load: %v %+v", err, cfg)
	}
}

func TestWebhookEnabledDefault(t *testing.T) {
	off := false
	if !(config.WebhookConfig{}).IsEnabled() || (config.WebhookConfig{Enabled: &off}).IsEnabled() {
		t.Fatalf("unexpected enabled semantics")
	}
}
