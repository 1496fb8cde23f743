package config_test

import (
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/gopimd/internal/config"
	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.API.Addr != ":50052" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":50052")
	}

	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9101")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.PIM.Family != "ipv4" {
		t.Errorf("PIM.Family = %q, want %q", cfg.PIM.Family, "ipv4")
	}

	if cfg.PIM.DefaultVRFName != "default" {
		t.Errorf("PIM.DefaultVRFName = %q, want %q", cfg.PIM.DefaultVRFName, "default")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":60000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
pim:
  family: "ipv4"
  rpf_cache_size: 128
  default_vrf_name: "main"
prefix_lists:
  - name: "ssm-range"
    rules:
      - seq: 10
        action: "permit"
        prefix: "232.0.0.0/8"
      - seq: 20
        action: "permit"
        prefix: "239.1.0.0/16"
instances:
  - name: "red"
    ssm_prefix_list: "ssm-range"
    keep_alive_time: "300s"
    spt_switchover:
      mode: "infinity"
    send_v6_secondary: false
    ecmp: true
    msdp:
      hold_time: "90s"
      keep_alive: "30s"
      peers:
        - peer: "10.0.0.2"
          source: "10.0.0.1"
    ssmpingd:
      - "10.0.0.1"
    static_routes:
      - iif: "eth0"
        oif: "eth1"
        group: "232.1.1.1"
        source: "10.1.1.1"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != ":60000" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":60000")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.PIM.RPFCacheSize != 128 {
		t.Errorf("PIM.RPFCacheSize = %d, want %d", cfg.PIM.RPFCacheSize, 128)
	}

	if cfg.PIM.DefaultVRFName != "main" {
		t.Errorf("PIM.DefaultVRFName = %q, want %q", cfg.PIM.DefaultVRFName, "main")
	}

	lists, err := cfg.BuildPrefixLists()
	if err != nil {
		t.Fatalf("BuildPrefixLists() error: %v", err)
	}
	if len(lists) != 1 || lists[0].Name() != "ssm-range" || lists[0].AFI() != filter.AFIIPv4 {
		t.Fatalf("BuildPrefixLists() = %v, want one ipv4 list ssm-range", lists)
	}
	if got := lists[0].ApplyAddr(netip.MustParseAddr("239.1.2.3")); got != filter.Permit {
		t.Errorf("ApplyAddr(239.1.2.3) = %v, want permit", got)
	}

	specs, err := cfg.InstanceSpecs()
	if err != nil {
		t.Fatalf("InstanceSpecs() error: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("InstanceSpecs() returned %d specs, want 1", len(specs))
	}

	spec := specs[0]
	if spec.Name != "red" || spec.SSMPrefixList != "ssm-range" {
		t.Errorf("spec = %q/%q, want red/ssm-range", spec.Name, spec.SSMPrefixList)
	}

	s := spec.Settings
	if s.KeepAlive != 300*time.Second {
		t.Errorf("KeepAlive = %v, want %v", s.KeepAlive, 300*time.Second)
	}
	if s.RPKeepAlive != pim.DefaultRPKeepAlive {
		t.Errorf("RPKeepAlive = %v, want default %v", s.RPKeepAlive, pim.DefaultRPKeepAlive)
	}
	if s.SPT.Mode != pim.SPTInfinity {
		t.Errorf("SPT.Mode = %v, want %v", s.SPT.Mode, pim.SPTInfinity)
	}
	if s.SendV6Secondary {
		t.Error("SendV6Secondary = true, want false")
	}
	if !s.ECMP || s.ECMPRebalance {
		t.Errorf("ECMP/ECMPRebalance = %v/%v, want true/false", s.ECMP, s.ECMPRebalance)
	}
	if s.MSDP.HoldTime != 90*time.Second || s.MSDP.KeepAlive != 30*time.Second {
		t.Errorf("MSDP timers = %v/%v, want 90s/30s", s.MSDP.HoldTime, s.MSDP.KeepAlive)
	}
	if s.MSDP.ConnectRetry != 30*time.Second {
		t.Errorf("MSDP.ConnectRetry = %v, want default 30s", s.MSDP.ConnectRetry)
	}

	wantPeer := pim.MSDPPeer{Peer: netip.MustParseAddr("10.0.0.2"), Source: netip.MustParseAddr("10.0.0.1")}
	if len(spec.MSDPPeers) != 1 || spec.MSDPPeers[0] != wantPeer {
		t.Errorf("MSDPPeers = %v, want [%v]", spec.MSDPPeers, wantPeer)
	}

	if len(spec.SSMPingd) != 1 || spec.SSMPingd[0] != netip.MustParseAddr("10.0.0.1") {
		t.Errorf("SSMPingd = %v, want [10.0.0.1]", spec.SSMPingd)
	}

	wantRoute := pim.StaticRoute{
		IIF:    "eth0",
		OIF:    "eth1",
		Group:  netip.MustParseAddr("232.1.1.1"),
		Source: netip.MustParseAddr("10.1.1.1"),
	}
	if len(spec.StaticRoutes) != 1 || spec.StaticRoutes[0] != wantRoute {
		t.Errorf("StaticRoutes = %v, want [%v]", spec.StaticRoutes, wantRoute)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: ":55555"
log:
  level: "warn"
instances:
  - name: "blue"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != ":55555" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":55555")
	}

	if cfg.Metrics.Addr != ":9101" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9101")
	}

	if cfg.PIM.RPFCacheSize != 4096 {
		t.Errorf("PIM.RPFCacheSize = %d, want default %d", cfg.PIM.RPFCacheSize, 4096)
	}

	specs, err := cfg.InstanceSpecs()
	if err != nil {
		t.Fatalf("InstanceSpecs() error: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("InstanceSpecs() returned %d specs, want 1", len(specs))
	}
	if specs[0].Settings != pim.DefaultSettings() {
		t.Errorf("Settings = %+v, want defaults %+v", specs[0].Settings, pim.DefaultSettings())
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.API.Addr != ":50052" {
		t.Errorf("API.Addr = %q, want default %q", cfg.API.Addr, ":50052")
	}
}

// TestLoadEnvOverrides sets process environment and cannot run in parallel.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOPIMD_API_ADDR", ":6000")
	t.Setenv("GOPIMD_PIM_RPF_CACHE_SIZE", "8192")
	t.Setenv("GOPIMD_PIM_DEFAULT_VRF_NAME", "main")
	t.Setenv("GOPIMD_PIM_AUTO_CREATE", "true")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.API.Addr != ":6000" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, ":6000")
	}
	if cfg.PIM.RPFCacheSize != 8192 {
		t.Errorf("PIM.RPFCacheSize = %d, want 8192", cfg.PIM.RPFCacheSize)
	}
	if cfg.PIM.DefaultVRFName != "main" {
		t.Errorf("PIM.DefaultVRFName = %q, want %q", cfg.PIM.DefaultVRFName, "main")
	}
	if !cfg.PIM.AutoCreate {
		t.Error("PIM.AutoCreate = false, want true")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty api addr",
			modify: func(cfg *config.Config) {
				cfg.API.Addr = ""
			},
			wantErr: config.ErrEmptyAPIAddr,
		},
		{
			name: "unknown family",
			modify: func(cfg *config.Config) {
				cfg.PIM.Family = "ipx"
			},
			wantErr: config.ErrInvalidFamily,
		},
		{
			name: "zero rpf cache",
			modify: func(cfg *config.Config) {
				cfg.PIM.RPFCacheSize = 0
			},
			wantErr: config.ErrInvalidRPFCacheSize,
		},
		{
			name: "empty default vrf",
			modify: func(cfg *config.Config) {
				cfg.PIM.DefaultVRFName = ""
			},
			wantErr: config.ErrEmptyDefaultVRFName,
		},
		{
			name: "bad prefix list action",
			modify: func(cfg *config.Config) {
				cfg.PrefixLists = []config.PrefixListConfig{{
					Name:  "x",
					Rules: []config.PrefixRuleConfig{{Action: "accept", Prefix: "232.0.0.0/8"}},
				}}
			},
			wantErr: filter.ErrInvalidAction,
		},
		{
			name: "prefix list family mismatch",
			modify: func(cfg *config.Config) {
				cfg.PrefixLists = []config.PrefixListConfig{{
					Name:  "x",
					Rules: []config.PrefixRuleConfig{{Action: "permit", Prefix: "ff3e::/32"}},
				}}
			},
			wantErr: config.ErrInvalidPrefixList,
		},
		{
			name: "duplicate prefix list",
			modify: func(cfg *config.Config) {
				cfg.PrefixLists = []config.PrefixListConfig{{Name: "x"}, {Name: "x", Family: "ipv4"}}
			},
			wantErr: config.ErrDuplicatePrefixList,
		},
		{
			name: "empty instance name",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{}}
			},
			wantErr: config.ErrInvalidInstanceName,
		},
		{
			name: "overlong instance name",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "a-very-long-vrf-name-that-exceeds-the-limit"}}
			},
			wantErr: config.ErrInvalidInstanceName,
		},
		{
			name: "duplicate instance",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "red"}, {Name: "red"}}
			},
			wantErr: config.ErrDuplicateInstance,
		},
		{
			name: "keepalive out of range",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "red", KeepAliveTime: 100 * time.Millisecond}}
			},
			wantErr: pim.ErrInvalidSettings,
		},
		{
			name: "hold time not above keepalive",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{
					Name: "red",
					MSDP: config.MSDPConfig{HoldTime: 30 * time.Second, KeepAlive: 30 * time.Second},
				}}
			},
			wantErr: pim.ErrInvalidSettings,
		},
		{
			name: "unknown spt mode",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "red", SPTSwitchover: config.SPTSwitchoverConfig{Mode: "never"}}}
			},
			wantErr: pim.ErrInvalidSettings,
		},
		{
			name: "bad ssmpingd address",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{Name: "red", SSMPingd: []string{"10.0.0"}}}
			},
			wantErr: config.ErrInvalidAddress,
		},
		{
			name: "msdp peer family mismatch",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{
					Name: "red",
					MSDP: config.MSDPConfig{Peers: []config.MSDPPeerConfig{{Peer: "10.0.0.2", Source: "2001:db8::1"}}},
				}}
			},
			wantErr: config.ErrInvalidAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    filter.AFI
		wantErr bool
	}{
		{input: "ipv4", want: filter.AFIIPv4},
		{input: "IPv6", want: filter.AFIIPv6},
		{input: "ip", want: filter.AFIIPv4},
		{input: "", wantErr: true},
		{input: "l2vpn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := config.ParseFamily(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFamily(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFamily(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gopimd.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
