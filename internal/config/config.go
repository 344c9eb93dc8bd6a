// Package config loads bridge configuration from environment variables,
// CLI flags (which mirror the env vars and take precedence when set),
// and an optional YAML overlay for list-valued settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds all bridge configuration (spec §6 External Interfaces).
type Config struct {
	IP       string `envconfig:"IP_ADDRESS" default:"127.0.0.1"`
	Port     int    `envconfig:"PORT" default:"9007"`
	Override bool   `envconfig:"OVERRIDE_LOCAL_IP" default:"false"`

	TokenFile  string `envconfig:"TOKEN"`
	CookieFile string `envconfig:"COOKIE"`

	NoUserList         bool   `envconfig:"NOUSERLIST" default:"false"`
	Autojoin           bool   `envconfig:"AUTOJOIN" default:"true"`
	NoRejoinOnMention  bool   `envconfig:"NO_REJOIN_ON_MENTION" default:"false"`
	StatusFile         string `envconfig:"STATUS_FILE" default:"status.json"`
	IgnoredChannels    string `envconfig:"IGNORED_CHANNELS"`
	DownloadsDirectory string `envconfig:"DOWNLOADS_DIRECTORY" default:"/tmp"`
	FormattedMaxLines  int    `envconfig:"FORMATTED_MAX_LINES" default:"10"`
	SilencedYellers    string `envconfig:"SILENCED_YELLERS"`
	ControlSocket      string `envconfig:"CONTROL_SOCKET"`

	// AuditDBPath is the optional SQLite relay-audit log (ambient
	// supplement, not part of the original CLI surface).
	AuditDBPath string `envconfig:"AUDIT_DB_PATH" default:""`

	// Diagnostic HTTP server (ambient, loopback-only).
	DiagListenAddr string `envconfig:"DIAG_LISTEN_ADDR" default:""`
	DiagJWTSecret  string `envconfig:"DIAG_JWT_SECRET" default:""`

	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// ConfigFile, when set, is a YAML overlay for IgnoredChannels and
	// SilencedYellers (comma-joined env vars are unwieldy for long lists).
	ConfigFile string `envconfig:"-"`
}

// fileOverlay is the shape of an optional YAML config file.
type fileOverlay struct {
	IgnoredChannels []string `yaml:"ignored_channels"`
	SilencedYellers []string `yaml:"silenced_yellers"`
}

// IgnoredChannelSet returns the parsed ignored-channels set, merging the
// comma-joined env/flag value with any YAML overlay.
func (c *Config) IgnoredChannelSet() map[string]bool {
	return toSet(c.IgnoredChannels)
}

// SilencedYellerSet returns the parsed silenced-yellers set.
func (c *Config) SilencedYellerSet() map[string]bool {
	return toSet(c.SilencedYellers)
}

func toSet(commaJoined string) map[string]bool {
	out := make(map[string]bool)
	if commaJoined == "" {
		return out
	}
	for _, part := range strings.Split(commaJoined, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}

// DiagEnabled returns true if the diagnostic HTTP server should start.
func (c *Config) DiagEnabled() bool {
	return c.DiagListenAddr != ""
}

// AuditEnabled returns true if the SQLite relay-audit log should open.
func (c *Config) AuditEnabled() bool {
	return c.AuditDBPath != ""
}

// Load reads configuration from environment variables, then overlays CLI
// flags (which win when explicitly set), then a YAML file if named.
func Load(args []string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	fs := pflag.NewFlagSet("localslackirc", pflag.ContinueOnError)
	ip := fs.String("ip", cfg.IP, "IP address to bind (must be loopback unless --override)")
	port := fs.Int("port", cfg.Port, "port to bind")
	override := fs.Bool("override", cfg.Override, "allow binding non-loopback addresses")
	tokenFile := fs.String("tokenfile", cfg.TokenFile, "path to file containing the Slack token")
	cookieFile := fs.String("cookiefile", cfg.CookieFile, "path to file containing the Slack cookie")
	noUserList := fs.Bool("nouserlist", cfg.NoUserList, "disable prefetching the user list")
	autojoin := fs.Bool("autojoin", cfg.Autojoin, "autojoin channels on registration")
	noRejoin := fs.Bool("no-rejoin-on-mention", cfg.NoRejoinOnMention, "disable auto-rejoin on mention in parted channels/threads")
	override2 := fs.String("status-file", cfg.StatusFile, "path to the persisted status file")
	ignored := fs.String("ignored-channels", cfg.IgnoredChannels, "comma-separated channel names to never autojoin")
	downloads := fs.String("downloads-directory", cfg.DownloadsDirectory, "directory for overflowed preformatted blocks")
	maxLines := fs.Int("formatted-max-lines", cfg.FormattedMaxLines, "max lines before a preformatted block is spilled to a file")
	silenced := fs.String("silenced-yellers", cfg.SilencedYellers, "comma-separated nicks whose yells are not attributed")
	controlSocket := fs.String("control-socket", cfg.ControlSocket, "path to the control socket")
	configFile := fs.String("config-file", "", "optional YAML overlay for list-valued settings")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg.IP = *ip
	cfg.Port = *port
	cfg.Override = *override
	cfg.TokenFile = *tokenFile
	cfg.CookieFile = *cookieFile
	cfg.NoUserList = *noUserList
	cfg.Autojoin = *autojoin
	cfg.NoRejoinOnMention = *noRejoin
	cfg.StatusFile = *override2
	cfg.IgnoredChannels = *ignored
	cfg.DownloadsDirectory = *downloads
	cfg.FormattedMaxLines = *maxLines
	cfg.SilencedYellers = *silenced
	cfg.ControlSocket = *controlSocket
	cfg.ConfigFile = *configFile

	if cfg.ConfigFile != "" {
		if err := cfg.applyOverlay(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if len(overlay.IgnoredChannels) > 0 {
		c.IgnoredChannels = mergeCSV(c.IgnoredChannels, overlay.IgnoredChannels)
	}
	if len(overlay.SilencedYellers) > 0 {
		c.SilencedYellers = mergeCSV(c.SilencedYellers, overlay.SilencedYellers)
	}
	return nil
}

func mergeCSV(existing string, extra []string) string {
	set := toSet(existing)
	for _, e := range extra {
		e = strings.TrimSpace(e)
		if e != "" {
			set[e] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return strings.Join(out, ",")
}

// Validate enforces §7 "Configuration error": invalid port, missing
// token, unusable downloads directory, non-loopback bind without override.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.TokenFile == "" {
		return fmt.Errorf("no token file configured (--tokenfile / TOKEN)")
	}
	if !c.Override && !isLoopback(c.IP) {
		return fmt.Errorf("refusing to bind non-loopback address %q without --override", c.IP)
	}
	if info, err := os.Stat(c.DownloadsDirectory); err != nil || !info.IsDir() {
		return fmt.Errorf("downloads directory %q is not usable: %w", c.DownloadsDirectory, err)
	}
	return nil
}

func isLoopback(ip string) bool {
	return ip == "127.0.0.1" || ip == "::1" || ip == "localhost" || strings.HasPrefix(ip, "127.")
}

// ReadTokenFile reads and trims the Slack token from TokenFile.
func (c *Config) ReadTokenFile() (string, error) {
	return readTrimmed(c.TokenFile)
}

// ReadCookieFile reads and trims the Slack cookie from CookieFile, if set.
func (c *Config) ReadCookieFile() (string, error) {
	if c.CookieFile == "" {
		return "", nil
	}
	return readTrimmed(c.CookieFile)
}

func readTrimmed(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// PortString is a convenience accessor for places needing "host:port".
func (c *Config) PortString() string {
	return strconv.Itoa(c.Port)
}
