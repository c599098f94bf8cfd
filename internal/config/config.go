// Package config loads server configuration from a YAML file, the
// DBADMIN_* environment, and command-line flags, in increasing order of
// precedence. It also owns the saved-connection presets stored in the
// config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/dbadmin/internal/util"
)

// Version is the release version baked into status responses.
const Version = "1.0.0"

// Preset is one saved connection. Password is kept out of JSON; list
// responses must never carry it.
type Preset struct {
	ID       string `yaml:"id,omitempty" json:"id"`
	Label    string `yaml:"label,omitempty" json:"label"`
	Driver   string `yaml:"driver" json:"driver"`
	Server   string `yaml:"server,omitempty" json:"server"`
	Username string `yaml:"username,omitempty" json:"username"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       string `yaml:"db,omitempty" json:"db"`
}

// BasicAuth optionally gates the whole server behind one credential
// pair. Password may be a bcrypt hash or plain text.
type BasicAuth struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

type Config struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	SessionTTL    time.Duration `yaml:"sessionTtl"`
	BruteForceMax int           `yaml:"bruteForceMax"`
	BruteForceTTL time.Duration `yaml:"bruteForceTtl"`
	Connections   []Preset      `yaml:"connections,omitempty"`
	BasicAuth     *BasicAuth    `yaml:"basicAuth,omitempty"`

	// SessionDB enables the persistent session store when set.
	SessionDB string `yaml:"sessionDb,omitempty"`

	// SessionSecret signs session cookies. Generated per process; a
	// persistent session store replaces it with its stored secret so
	// cookies survive restarts.
	SessionSecret []byte `yaml:"-"`

	// ConfigFile is the path presets are persisted to. Empty means
	// presets are in-memory only.
	ConfigFile string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          8080,
		SessionTTL:    time.Hour,
		BruteForceMax: 10,
		BruteForceTTL: 5 * time.Minute,
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// at path (missing file is fine), then DBADMIN_* environment variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// First run; the file appears once a preset is saved.
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
		cfg.ConfigFile = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	secret, err := util.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating session secret: %w", err)
	}
	cfg.SessionSecret = secret
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("DBADMIN_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DBADMIN_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DBADMIN_PORT: %w", err)
		}
		c.Port = n
	}
	if v := os.Getenv("DBADMIN_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DBADMIN_SESSION_TTL: %w", err)
		}
		c.SessionTTL = d
	}
	if v := os.Getenv("DBADMIN_BRUTE_FORCE_MAX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DBADMIN_BRUTE_FORCE_MAX: %w", err)
		}
		c.BruteForceMax = n
	}
	if v := os.Getenv("DBADMIN_BRUTE_FORCE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DBADMIN_BRUTE_FORCE_TTL: %w", err)
		}
		c.BruteForceTTL = d
	}
	if v := os.Getenv("DBADMIN_SESSION_DB"); v != "" {
		c.SessionDB = v
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FindPreset looks a preset up by its explicit id, falling back to the
// list index.
func (c *Config) FindPreset(id string) *Preset {
	for i := range c.Connections {
		if c.Connections[i].ID == id {
			return &c.Connections[i]
		}
	}
	if idx, err := strconv.Atoi(id); err == nil && idx >= 0 && idx < len(c.Connections) {
		return &c.Connections[idx]
	}
	return nil
}

// PresetSummaries returns the presets with ids and labels filled in,
// for list responses. Passwords never leave this package through here.
func (c *Config) PresetSummaries() []Preset {
	out := make([]Preset, len(c.Connections))
	for i, p := range c.Connections {
		if p.ID == "" {
			p.ID = strconv.Itoa(i)
		}
		if p.Label == "" {
			p.Label = fmt.Sprintf("Connection %d", i+1)
		}
		p.Password = ""
		out[i] = p
	}
	return out
}

// AddPreset stores a preset and persists the config file. A preset with
// the same id replaces the existing one in place; presets stay unique
// by id with the last write winning.
func (c *Config) AddPreset(p Preset) error {
	if p.ID == "" {
		p.ID = strconv.Itoa(len(c.Connections))
	}
	for i := range c.Connections {
		if c.Connections[i].ID == p.ID {
			c.Connections[i] = p
			return c.savePresets()
		}
	}
	c.Connections = append(c.Connections, p)
	return c.savePresets()
}

// RemovePreset deletes a preset by id and persists the config file.
func (c *Config) RemovePreset(id string) error {
	for i := range c.Connections {
		if c.Connections[i].ID == id || (c.Connections[i].ID == "" && strconv.Itoa(i) == id) {
			c.Connections = append(c.Connections[:i], c.Connections[i+1:]...)
			return c.savePresets()
		}
	}
	return fmt.Errorf("preset %q not found", id)
}

// SetBasicAuth replaces the basic-auth gate and persists the config
// file. A nil value disables the gate.
func (c *Config) SetBasicAuth(ba *BasicAuth) error {
	c.BasicAuth = ba
	return c.rewriteKey("basicAuth", ba)
}

// savePresets rewrites only the connections key of the config file,
// leaving every other key untouched.
func (c *Config) savePresets() error {
	return c.rewriteKey("connections", c.Connections)
}

// rewriteKey performs a read-modify-write of one top-level key in the
// YAML file, preserving unrelated keys and their order. A nil value
// removes the key.
func (c *Config) rewriteKey(key string, value any) error {
	if c.ConfigFile == "" {
		return nil
	}

	var doc yaml.Node
	data, err := os.ReadFile(c.ConfigFile)
	switch {
	case os.IsNotExist(err):
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{
			{Kind: yaml.MappingNode},
		}}
	case err != nil:
		return fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", c.ConfigFile, err)
		}
		if len(doc.Content) == 0 {
			doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{
				{Kind: yaml.MappingNode},
			}}
		}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", c.ConfigFile)
	}

	idx := -1
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			idx = i
			break
		}
	}

	if value == nil || isNilPointer(value) {
		if idx >= 0 {
			root.Content = append(root.Content[:idx], root.Content[idx+2:]...)
		}
	} else {
		var valNode yaml.Node
		if err := valNode.Encode(value); err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}
		if idx >= 0 {
			root.Content[idx+1] = &valNode
		} else {
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				&valNode)
		}
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	tmp := c.ConfigFile + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, c.ConfigFile)
}

func isNilPointer(v any) bool {
	if ba, ok := v.(*BasicAuth); ok {
		return ba == nil
	}
	return false
}
