// Package config loads proxysock configuration from a YAML file, PROXYSOCK_
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/die-net/proxysock/internal/selector"
)

const (
	DefaultSelector           = "env"
	DefaultDialTimeout        = 10 * time.Second
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultHTTPIdleTimeout    = 4 * time.Minute
	DefaultTCPKeepAlive       = "45:45:3"
	DefaultPACTTL             = 5 * time.Minute
	DefaultPACExecTimeout     = 5 * time.Second
	DefaultLogLevel           = "info"

	EnvPrefix = "PROXYSOCK"
)

type Config struct {
	// Selector is one of static, env or pac.
	Selector string `mapstructure:"selector"`
	// Proxies are candidate URLs for the static selector, in order.
	Proxies     []string          `mapstructure:"proxies"`
	PAC         PACConfig         `mapstructure:"pac"`
	Credentials CredentialsConfig `mapstructure:"credentials"`

	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	HTTPIdleTimeout    time.Duration `mapstructure:"http_idle_timeout"`
	TCPKeepAlive       string        `mapstructure:"tcp_keepalive"`

	HTTPListen   string       `mapstructure:"http_listen"`
	SOCKS5Listen string       `mapstructure:"socks5_listen"`
	SOCKS5Auth   ListenerAuth `mapstructure:"socks5_auth"`

	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type PACConfig struct {
	// URL is an http(s) URL, a file:// URL or a local path.
	URL         string        `mapstructure:"url"`
	Charset     string        `mapstructure:"charset"`
	TTL         time.Duration `mapstructure:"ttl"`
	ExecTimeout time.Duration `mapstructure:"exec_timeout"`
}

type CredentialsConfig struct {
	// Username and Password apply to every destination without a Hosts entry.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Hosts holds per-destination credentials. Host names contain dots, which
	// viper treats as key separators, so they are listed rather than mapped.
	Hosts []HostCredentials `mapstructure:"hosts"`
}

// ListenerAuth is the username/password a SOCKS5 client must present. An
// empty Username disables authentication.
type ListenerAuth struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type HostCredentials struct {
	Host     string `mapstructure:"host"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"selector":            "selector",
	"proxy":               "proxies",
	"pac":                 "pac.url",
	"pac-charset":         "pac.charset",
	"proxy-user":          "credentials.username",
	"proxy-password":      "credentials.password",
	"dial-timeout":        "dial_timeout",
	"negotiation-timeout": "negotiation_timeout",
	"http-idle-timeout":   "http_idle_timeout",
	"tcp-keepalive":       "tcp_keepalive",
	"http-listen":         "http_listen",
	"socks5-listen":       "socks5_listen",
	"log-level":           "log_level",
	"log-path":            "log_path",
}

// Load reads configuration. An empty path skips the file; a missing file is
// not an error. Flags in fs that were set on the command line override
// everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		v.SetConfigFile(absPath)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", absPath, err)
			}
			slog.Warn("config file not found, using defaults and environment", "path", absPath)
		} else {
			slog.Debug("loaded configuration file", "path", absPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	// A comma separated PROXYSOCK_PROXIES arrives as one element.
	if len(cfg.Proxies) == 1 && strings.Contains(cfg.Proxies[0], ",") {
		cfg.Proxies = strings.Split(cfg.Proxies[0], ",")
	}
	for i := range cfg.Proxies {
		cfg.Proxies[i] = strings.TrimSpace(cfg.Proxies[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("selector", DefaultSelector)
	v.SetDefault("proxies", []string{})
	v.SetDefault("pac.url", "")
	v.SetDefault("pac.charset", "")
	v.SetDefault("pac.ttl", DefaultPACTTL)
	v.SetDefault("pac.exec_timeout", DefaultPACExecTimeout)
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("dial_timeout", DefaultDialTimeout)
	v.SetDefault("negotiation_timeout", DefaultNegotiationTimeout)
	v.SetDefault("http_idle_timeout", DefaultHTTPIdleTimeout)
	v.SetDefault("tcp_keepalive", DefaultTCPKeepAlive)
	v.SetDefault("http_listen", "")
	v.SetDefault("socks5_listen", "")
	v.SetDefault("socks5_auth.username", "")
	v.SetDefault("socks5_auth.password", "")
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_path", "")
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Selector) {
	case "static":
		for _, raw := range c.Proxies {
			if _, err := selector.ParseProxyURL(raw); err != nil {
				return fmt.Errorf("proxies: %q: %w", raw, err)
			}
		}
	case "env":
	case "pac":
		if c.PAC.URL == "" {
			return errors.New("pac.url is required when selector is pac")
		}
	default:
		return fmt.Errorf("invalid selector %q, must be one of: static, env, pac", c.Selector)
	}

	for i, hc := range c.Credentials.Hosts {
		if hc.Host == "" {
			return fmt.Errorf("credentials.hosts[%d]: missing host", i)
		}
	}

	if c.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if c.NegotiationTimeout < 0 {
		return errors.New("negotiation_timeout cannot be negative")
	}
	if c.PAC.ExecTimeout <= 0 {
		return errors.New("pac.exec_timeout must be positive")
	}
	if _, err := ParseTCPKeepAlive(c.TCPKeepAlive); err != nil {
		return fmt.Errorf("tcp_keepalive: %w", err)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
