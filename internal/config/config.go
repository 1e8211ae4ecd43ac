package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	DefaultRelayAddr        = "127.0.0.1:5000"
	DefaultHandshakeTimeout = 10 * time.Second

	TransportTCP = "tcp"
	TransportWS  = "ws"
)

type AppConfig struct {
	RelayAddr  string `yaml:"relay_addr"`
	Transport  string `yaml:"transport"`
	StatusAddr string `yaml:"status_addr"`

	PlayerName string `yaml:"player_name"`

	StartFEN    string `yaml:"start_fen"`
	TimeControl string `yaml:"time_control"`

	TurnTimeout      time.Duration `yaml:"turn_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ServeForever     bool          `yaml:"serve_forever"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	MsgOverrideDir string `yaml:"msg_override_dir"`
}

// Load applies defaults, then the YAML file named by CHESS_RELAY_CONFIG, then the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		RelayAddr:        DefaultRelayAddr,
		Transport:        TransportTCP,
		TimeControl:      "none",
		HandshakeTimeout: DefaultHandshakeTimeout,
	}

	if path := strings.TrimSpace(os.Getenv("CHESS_RELAY_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("RELAY_ADDR")); v != "" {
		cfg.RelayAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("RELAY_TRANSPORT")); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("STATUS_ADDR")); v != "" {
		cfg.StatusAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("PLAYER_NAME")); v != "" {
		cfg.PlayerName = v
	}
	if v := strings.TrimSpace(os.Getenv("START_FEN")); v != "" {
		cfg.StartFEN = v
	}
	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		cfg.TimeControl = v
	}
	if v := strings.TrimSpace(os.Getenv("TURN_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("TURN_TIMEOUT: %w", err)
		}
		cfg.TurnTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("HANDSHAKE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("HANDSHAKE_TIMEOUT: %w", err)
		}
		cfg.HandshakeTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("SERVE_FOREVER")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SERVE_FOREVER: %w", err)
		}
		cfg.ServeForever = b
	}

	cfg.RedisURL = envOr("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.MsgOverrideDir = envOr("MSG_OVERRIDE_DIR", cfg.MsgOverrideDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.RelayAddr) == "" {
		return errors.New("RELAY_ADDR is required")
	}
	switch c.Transport {
	case TransportTCP, TransportWS:
	default:
		return fmt.Errorf("RELAY_TRANSPORT must be tcp or ws, got %q", c.Transport)
	}
	if c.TurnTimeout < 0 {
		return errors.New("TURN_TIMEOUT must not be negative")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("HANDSHAKE_TIMEOUT must be positive")
	}
	if _, _, err := ParseTimeControl(c.TimeControl); err != nil {
		return err
	}
	return nil
}

// Clock returns the configured base time and increment; zero base means untimed.
func (c *AppConfig) Clock() (base, inc time.Duration) {
	base, inc, _ = ParseTimeControl(c.TimeControl)
	return base, inc
}

// ParseTimeControl reads "none" or "M+S" (minutes plus increment seconds), e.g. "3+2".
// Either part may instead be a Go duration such as "30s+0" or "1m+500ms".
func ParseTimeControl(s string) (base, inc time.Duration, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return 0, 0, nil
	}
	m, sec, ok := strings.Cut(s, "+")
	if !ok {
		sec = "0"
	}
	base, err1 := parseTCPart(m, time.Minute)
	inc, err2 := parseTCPart(sec, time.Second)
	if err1 != nil || err2 != nil || base <= 0 || inc < 0 {
		return 0, 0, fmt.Errorf("TIME_CONTROL must be none or M+S, got %q", s)
	}
	return base, inc, nil
}

func parseTCPart(s string, unit time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * unit, nil
	}
	return time.ParseDuration(s)
}

// FormatTimeControl is the inverse of ParseTimeControl. Whole minutes and
// seconds keep the short form; anything finer is written as a duration.
func FormatTimeControl(base, inc time.Duration) string {
	if base <= 0 {
		return "none"
	}
	return formatTCPart(base, time.Minute) + "+" + formatTCPart(inc, time.Second)
}

func formatTCPart(d, unit time.Duration) string {
	if d%unit == 0 {
		return strconv.Itoa(int(d / unit))
	}
	return d.String()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
