package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHESS_RELAY_CONFIG", "RELAY_ADDR", "RELAY_TRANSPORT", "STATUS_ADDR", "PLAYER_NAME",
		"START_FEN", "TIME_CONTROL", "TURN_TIMEOUT", "HANDSHAKE_TIMEOUT", "SERVE_FOREVER",
		"REDIS_URL", "DATABASE_URL", "MSG_OVERRIDE_DIR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayAddr != DefaultRelayAddr || cfg.Transport != TransportTCP {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if base, _ := cfg.Clock(); base != 0 {
		t.Fatalf("default should be untimed, got %v", base)
	}
	if cfg.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Fatalf("handshake timeout = %v", cfg.HandshakeTimeout)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "relay_addr: 0.0.0.0:6000\ntransport: ws\nplayer_name: file\nturn_timeout: 30s\ntime_control: 5+3\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CHESS_RELAY_CONFIG", path)
	t.Setenv("PLAYER_NAME", "env")
	t.Setenv("SERVE_FOREVER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RelayAddr != "0.0.0.0:6000" || cfg.Transport != TransportWS {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PlayerName != "env" {
		t.Fatalf("env should override file, got %q", cfg.PlayerName)
	}
	if cfg.TurnTimeout != 30*time.Second || !cfg.ServeForever {
		t.Fatalf("unexpected %+v", cfg)
	}
	base, inc := cfg.Clock()
	if base != 5*time.Minute || inc != 3*time.Second {
		t.Fatalf("clock = %v+%v", base, inc)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"transport":    {"RELAY_TRANSPORT", "udp"},
		"turn_timeout": {"TURN_TIMEOUT", "soon"},
		"serve":        {"SERVE_FOREVER", "maybe"},
		"time_control": {"TIME_CONTROL", "blitz"},
		"handshake":    {"HANDSHAKE_TIMEOUT", "0s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(kv[0], kv[1])
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", kv[0], kv[1])
			}
		})
	}
}

func TestTimeControlRoundTrip(t *testing.T) {
	for _, s := range []string{"none", "3+2", "10+0", "30s+0", "1m30s+2", "3+500ms"} {
		base, inc, err := ParseTimeControl(s)
		if err != nil {
			t.Fatalf("ParseTimeControl(%q): %v", s, err)
		}
		if got := FormatTimeControl(base, inc); got != s {
			t.Fatalf("FormatTimeControl = %q, want %q", got, s)
		}
	}
	if base, inc, err := ParseTimeControl("7"); err != nil || base != 7*time.Minute || inc != 0 {
		t.Fatalf("ParseTimeControl(7) = %v %v %v", base, inc, err)
	}
	if got := FormatTimeControl(30*time.Second, 0); got != "30s+0" {
		t.Fatalf("sub-minute base formatted as %q", got)
	}
	for _, bad := range []string{"0+2", "3+-1", "x+1", "-30s+0"} {
		if _, _, err := ParseTimeControl(bad); err == nil {
			t.Fatalf("ParseTimeControl(%q) should fail", bad)
		}
	}
}
