package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"specline/internal/specid"
)

const (
	FileName        = "specline.yml"
	WorkspaceDir    = ".specline"
	DefaultSpecsDir = ".specline/specs"
	DefaultAddr     = "127.0.0.1:8787"
)

// Config models specline.yml.
type Config struct {
	Project struct {
		Name   string `yaml:"name"`
		Prefix string `yaml:"prefix"`
	} `yaml:"project"`
	Specs struct {
		Dir        string `yaml:"dir"`
		ArchiveDir string `yaml:"archive_dir"`
	} `yaml:"specs"`
	Repos    []RepoConfig    `yaml:"repos"`
	Server   ServerConfig    `yaml:"server"`
	RBAC     RBACConfig      `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// RepoConfig names another repository whose specs may be referenced as
// name:id. Path may start with ~.
type RepoConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr             string `yaml:"addr"`
	BasePath         string `yaml:"base_path"`
	JWTSecret        string `yaml:"jwt_secret"`
	AllowActorHeader bool   `yaml:"allow_actor_header"`
	DevLogin         bool   `yaml:"dev_login"`
}

type RBACConfig struct {
	Roles map[string]RBACRole `yaml:"roles"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled defaults to true when the key is absent.
func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with spl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.Name == "" {
		return fmt.Errorf("config.project.name is required")
	}
	if p := c.Project.Prefix; p != "" {
		probe, err := specid.Parse(p + "-2026-01-01-001-000")
		if err != nil || probe.Project != p || strings.ContainsAny(p, ".:") {
			return fmt.Errorf("config.project.prefix %q cannot be used as an id prefix", p)
		}
	}
	if c.Specs.Dir == "" {
		return fmt.Errorf("config.specs.dir is required")
	}
	seen := map[string]bool{}
	for i, r := range c.Repos {
		if r.Name == "" {
			return fmt.Errorf("config.repos[%d].name is required", i)
		}
		if !specid.ValidRepoName(r.Name) {
			return fmt.Errorf("config.repos[%d].name %q must match [A-Za-z0-9_-]+", i, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("config.repos has duplicate name %s", r.Name)
		}
		seen[r.Name] = true
		if r.Path == "" {
			return fmt.Errorf("repo %s has empty path", r.Name)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
		for _, evt := range w.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Repo returns the configured repository with the given name.
func (c *Config) Repo(name string) (RepoConfig, bool) {
	for _, r := range c.Repos {
		if r.Name == name {
			return r, true
		}
	}
	return RepoConfig{}, false
}

// RolePermissions returns the union of permissions granted by roles.
func (c *Config) RolePermissions(roles []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, roleID := range roles {
		for _, perm := range c.RBAC.Roles[roleID].Permissions {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// ExpandHome replaces a leading ~ with home.
func ExpandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		return filepath.Join(home, path[2:])
	}
	return path
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectName string) string {
	return fmt.Sprintf(defaultTemplate, projectName)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(filepath.Base(absOrSelf(workspace))), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func absOrSelf(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return workspace
	}
	return abs
}

// Default returns the default Config struct for a project.
func Default(projectName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectName))).Decode(&cfg)
	cfg.Project.Name = projectName
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.Specs.Dir == "" {
		cfg.Specs.Dir = DefaultSpecsDir
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  name: %q
  prefix: ""

specs:
  dir: .specline/specs
  # archive_dir defaults to <specs.dir>/archive

# Other repositories whose specs may be referenced as name:id in depends_on.
repos: []
#  - name: backend
#    path: ~/src/backend

server:
  addr: 127.0.0.1:8787
  base_path: ""
  jwt_secret: ""
  allow_actor_header: true
  # dev_login mints local test tokens without credentials; keep it off outside development.
  dev_login: false

rbac:
  roles:
    owner:
      description: "Full control including forced transitions"
      permissions: [spec.read, spec.transition, spec.force, events.read]
    worker:
      description: "Moves specs through the normal lifecycle"
      permissions: [spec.read, spec.transition, events.read]
    viewer:
      description: "Read-only access"
      permissions: [spec.read, events.read]

webhooks: []
#  - url: https://example.invalid/hook
#    events: [spec.transitioned, spec.completed]
#    timeout_seconds: 5
`
