// Package config manages gopimd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/gopimd/internal/filter"
	"github.com/dantte-lp/gopimd/internal/pim"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete gopimd configuration.
type Config struct {
	API         APIConfig          `koanf:"api"`
	Metrics     MetricsConfig      `koanf:"metrics"`
	Log         LogConfig          `koanf:"log"`
	PIM         PIMConfig          `koanf:"pim"`
	PrefixLists []PrefixListConfig `koanf:"prefix_lists"`
	Instances   []InstanceConfig   `koanf:"instances"`
}

// APIConfig holds the ConnectRPC server configuration.
type APIConfig struct {
	// Addr is the API listen address (e.g., ":50052").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9101").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// PIMConfig holds daemon-wide PIM parameters.
type PIMConfig struct {
	// Family is the address family served by this daemon: "ipv4" or "ipv6".
	Family string `koanf:"family"`

	// RPFCacheSize bounds the RPF cache of every instance.
	RPFCacheSize int `koanf:"rpf_cache_size"`

	// DefaultVRFName is the name of the default VRF. Its instance is
	// written to the configuration dump without a vrf block.
	DefaultVRFName string `koanf:"default_vrf_name"`

	// AutoCreate creates an instance for every VRF the kernel announces,
	// not only for the ones listed under instances.
	AutoCreate bool `koanf:"auto_create"`
}

// PrefixListConfig is a named, ordered list of permit/deny rules.
type PrefixListConfig struct {
	Name string `koanf:"name"`

	// Family defaults to pim.family.
	Family string             `koanf:"family"`
	Rules  []PrefixRuleConfig `koanf:"rules"`
}

// PrefixRuleConfig is a single prefix list entry.
type PrefixRuleConfig struct {
	Seq    uint32 `koanf:"seq"`
	Action string `koanf:"action"`
	Prefix string `koanf:"prefix"`
	GE     uint8  `koanf:"ge"`
	LE     uint8  `koanf:"le"`
}

// InstanceConfig describes a declarative PIM instance. Each entry is
// created on daemon startup and reconciled on SIGHUP reload.
type InstanceConfig struct {
	// Name is the VRF name the instance binds to.
	Name string `koanf:"name"`

	// SSMPrefixList names the prefix list defining the SSM group range.
	// Empty selects the default range.
	SSMPrefixList string `koanf:"ssm_prefix_list"`

	// KeepAliveTime is the (S,G) keepalive period. Zero selects 210s.
	KeepAliveTime time.Duration `koanf:"keep_alive_time"`

	// RPKeepAliveTime is the keepalive period on the RP. Zero selects 185s.
	RPKeepAliveTime time.Duration `koanf:"rp_keep_alive_time"`

	RegisterAcceptList string `koanf:"register_accept_list"`

	SPTSwitchover SPTSwitchoverConfig `koanf:"spt_switchover"`

	// SendV6Secondary is true when unset.
	SendV6Secondary *bool `koanf:"send_v6_secondary"`

	ECMP          bool `koanf:"ecmp"`
	ECMPRebalance bool `koanf:"ecmp_rebalance"`

	MSDP MSDPConfig `koanf:"msdp"`

	// SSMPingd lists the source addresses answering SSM ping.
	SSMPingd []string `koanf:"ssmpingd"`

	StaticRoutes []StaticRouteConfig `koanf:"static_routes"`
}

// SPTSwitchoverConfig configures shortest path tree switchover.
type SPTSwitchoverConfig struct {
	// Mode is "immediate" (default) or "infinity".
	Mode       string `koanf:"mode"`
	PrefixList string `koanf:"prefix_list"`
}

// MSDPConfig holds the MSDP timers and peers of an instance. Zero timers
// select the protocol defaults.
type MSDPConfig struct {
	HoldTime        time.Duration    `koanf:"hold_time"`
	KeepAlive       time.Duration    `koanf:"keep_alive"`
	ConnectionRetry time.Duration    `koanf:"connection_retry"`
	Peers           []MSDPPeerConfig `koanf:"peers"`
}

// MSDPPeerConfig is one MSDP peering.
type MSDPPeerConfig struct {
	Peer   string `koanf:"peer"`
	Source string `koanf:"source"`
}

// StaticRouteConfig is one static multicast route. An empty Source
// matches any source.
type StaticRouteConfig struct {
	IIF    string `koanf:"iif"`
	OIF    string `koanf:"oif"`
	Group  string `koanf:"group"`
	Source string `koanf:"source"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":50052",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		PIM: PIMConfig{
			Family:         "ipv4",
			RPFCacheSize:   4096,
			DefaultVRFName: pim.DefaultVRFName,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for gopimd configuration.
// Variables are named GOPIMD_<section>_<key>, e.g., GOPIMD_API_ADDR.
const envPrefix = "GOPIMD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOPIMD_ prefix), and merges on top of DefaultConfig().
// An empty path skips the file layer. Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	GOPIMD_API_ADDR      -> api.addr
//	GOPIMD_METRICS_ADDR  -> metrics.addr
//	GOPIMD_METRICS_PATH  -> metrics.path
//	GOPIMD_LOG_LEVEL     -> log.level
//	GOPIMD_LOG_FORMAT    -> log.format
//	GOPIMD_PIM_FAMILY    -> pim.family
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOPIMD_PIM_RPF_CACHE_SIZE -> pim.rpf_cache_size.
// Section names hold no underscore, so only the first one separates the
// section from the key.
func envKeyMapper(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, key, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + key
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":             defaults.API.Addr,
		"metrics.addr":         defaults.Metrics.Addr,
		"metrics.path":         defaults.Metrics.Path,
		"log.level":            defaults.Log.Level,
		"log.format":           defaults.Log.Format,
		"pim.family":           defaults.PIM.Family,
		"pim.rpf_cache_size":   defaults.PIM.RPFCacheSize,
		"pim.default_vrf_name": defaults.PIM.DefaultVRFName,
		"pim.auto_create":      defaults.PIM.AutoCreate,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrInvalidFamily indicates an address family other than ipv4/ipv6.
	ErrInvalidFamily = errors.New("family must be ipv4 or ipv6")

	// ErrInvalidRPFCacheSize indicates a non-positive RPF cache size.
	ErrInvalidRPFCacheSize = errors.New("pim.rpf_cache_size must be > 0")

	// ErrEmptyDefaultVRFName indicates the default VRF name is empty.
	ErrEmptyDefaultVRFName = errors.New("pim.default_vrf_name must not be empty")

	// ErrInvalidPrefixList indicates a prefix list that does not compile.
	ErrInvalidPrefixList = errors.New("invalid prefix list")

	// ErrDuplicatePrefixList indicates two prefix lists share a name and family.
	ErrDuplicatePrefixList = errors.New("duplicate prefix list")

	// ErrInvalidInstanceName indicates an empty or overlong instance name.
	ErrInvalidInstanceName = errors.New("instance name is invalid")

	// ErrDuplicateInstance indicates two instances share a name.
	ErrDuplicateInstance = errors.New("duplicate instance")

	// ErrInvalidAddress indicates an unparsable or wrong-family address.
	ErrInvalidAddress = errors.New("invalid address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if _, err := ParseFamily(cfg.PIM.Family); err != nil {
		return fmt.Errorf("pim.family: %w", err)
	}

	if cfg.PIM.RPFCacheSize <= 0 {
		return ErrInvalidRPFCacheSize
	}

	if cfg.PIM.DefaultVRFName == "" {
		return ErrEmptyDefaultVRFName
	}

	if _, err := cfg.BuildPrefixLists(); err != nil {
		return err
	}

	if _, err := cfg.InstanceSpecs(); err != nil {
		return err
	}

	return nil
}

// ParseFamily maps "ipv4"/"ipv6" to a filter.AFI.
func ParseFamily(s string) (filter.AFI, error) {
	switch strings.ToLower(s) {
	case "ipv4", "ip":
		return filter.AFIIPv4, nil
	case "ipv6":
		return filter.AFIIPv6, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidFamily)
	}
}

// -------------------------------------------------------------------------
// Conversion
// -------------------------------------------------------------------------

// BuildPrefixLists compiles the configured prefix lists.
func (cfg *Config) BuildPrefixLists() ([]*filter.PrefixList, error) {
	lists := make([]*filter.PrefixList, 0, len(cfg.PrefixLists))
	seen := make(map[string]struct{}, len(cfg.PrefixLists))

	for i, plc := range cfg.PrefixLists {
		family := plc.Family
		if family == "" {
			family = cfg.PIM.Family
		}
		afi, err := ParseFamily(family)
		if err != nil {
			return nil, fmt.Errorf("prefix_lists[%d]: %w", i, err)
		}

		key := afi.String() + "|" + plc.Name
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("prefix_lists[%d] %s %q: %w", i, afi, plc.Name, ErrDuplicatePrefixList)
		}
		seen[key] = struct{}{}

		rules := make([]filter.Rule, 0, len(plc.Rules))
		for j, rc := range plc.Rules {
			rule, err := rc.rule()
			if err != nil {
				return nil, fmt.Errorf("prefix_lists[%d].rules[%d]: %w: %w", i, j, ErrInvalidPrefixList, err)
			}
			rules = append(rules, rule)
		}

		pl, err := filter.NewPrefixList(plc.Name, afi, rules)
		if err != nil {
			return nil, fmt.Errorf("prefix_lists[%d]: %w: %w", i, ErrInvalidPrefixList, err)
		}
		lists = append(lists, pl)
	}

	return lists, nil
}

func (rc PrefixRuleConfig) rule() (filter.Rule, error) {
	action, err := filter.ParseAction(strings.ToLower(rc.Action))
	if err != nil {
		return filter.Rule{}, err
	}
	prefix, err := netip.ParsePrefix(rc.Prefix)
	if err != nil {
		return filter.Rule{}, fmt.Errorf("parse prefix %q: %w", rc.Prefix, err)
	}
	return filter.Rule{
		Seq:    rc.Seq,
		Action: action,
		Prefix: prefix,
		GE:     rc.GE,
		LE:     rc.LE,
	}, nil
}

// InstanceSpecs converts the configured instances to reconciliation input.
func (cfg *Config) InstanceSpecs() ([]pim.InstanceSpec, error) {
	specs := make([]pim.InstanceSpec, 0, len(cfg.Instances))
	seen := make(map[string]struct{}, len(cfg.Instances))

	for i, ic := range cfg.Instances {
		if ic.Name == "" || len(ic.Name) > pim.MaxNameLen {
			return nil, fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrInvalidInstanceName)
		}
		if _, dup := seen[ic.Name]; dup {
			return nil, fmt.Errorf("instances[%d] %q: %w", i, ic.Name, ErrDuplicateInstance)
		}
		seen[ic.Name] = struct{}{}

		spec, err := ic.Spec()
		if err != nil {
			return nil, fmt.Errorf("instances[%d] %q: %w", i, ic.Name, err)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// Spec converts the instance entry to a pim.InstanceSpec, filling
// unset timers with protocol defaults.
func (ic InstanceConfig) Spec() (pim.InstanceSpec, error) {
	settings := pim.DefaultSettings()
	if ic.KeepAliveTime != 0 {
		settings.KeepAlive = ic.KeepAliveTime
	}
	if ic.RPKeepAliveTime != 0 {
		settings.RPKeepAlive = ic.RPKeepAliveTime
	}
	if ic.MSDP.HoldTime != 0 {
		settings.MSDP.HoldTime = ic.MSDP.HoldTime
	}
	if ic.MSDP.KeepAlive != 0 {
		settings.MSDP.KeepAlive = ic.MSDP.KeepAlive
	}
	if ic.MSDP.ConnectionRetry != 0 {
		settings.MSDP.ConnectRetry = ic.MSDP.ConnectionRetry
	}
	if ic.SendV6Secondary != nil {
		settings.SendV6Secondary = *ic.SendV6Secondary
	}
	settings.ECMP = ic.ECMP
	settings.ECMPRebalance = ic.ECMPRebalance
	settings.RegisterAcceptList = ic.RegisterAcceptList

	mode, err := pim.ParseSPTMode(ic.SPTSwitchover.Mode)
	if err != nil {
		return pim.InstanceSpec{}, err
	}
	settings.SPT = pim.SPTSwitchover{Mode: mode, PrefixList: ic.SPTSwitchover.PrefixList}

	if err := settings.Validate(); err != nil {
		return pim.InstanceSpec{}, err
	}

	spec := pim.InstanceSpec{
		Name:          ic.Name,
		Settings:      settings,
		SSMPrefixList: ic.SSMPrefixList,
	}

	for _, p := range ic.MSDP.Peers {
		peer, err := parseAddr("msdp peer", p.Peer)
		if err != nil {
			return pim.InstanceSpec{}, err
		}
		source, err := parseAddr("msdp source", p.Source)
		if err != nil {
			return pim.InstanceSpec{}, err
		}
		if peer.Is4() != source.Is4() {
			return pim.InstanceSpec{}, fmt.Errorf("msdp peer %s source %s: families differ: %w", peer, source, ErrInvalidAddress)
		}
		spec.MSDPPeers = append(spec.MSDPPeers, pim.MSDPPeer{Peer: peer, Source: source})
	}

	for _, s := range ic.SSMPingd {
		addr, err := parseAddr("ssmpingd source", s)
		if err != nil {
			return pim.InstanceSpec{}, err
		}
		spec.SSMPingd = append(spec.SSMPingd, addr)
	}

	for _, rc := range ic.StaticRoutes {
		group, err := parseAddr("static route group", rc.Group)
		if err != nil {
			return pim.InstanceSpec{}, err
		}
		route := pim.StaticRoute{IIF: rc.IIF, OIF: rc.OIF, Group: group}
		if rc.Source != "" {
			if route.Source, err = parseAddr("static route source", rc.Source); err != nil {
				return pim.InstanceSpec{}, err
			}
		}
		spec.StaticRoutes = append(spec.StaticRoutes, route)
	}

	return spec, nil
}

func parseAddr(what, s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s %q: %w: %w", what, s, ErrInvalidAddress, err)
	}
	return addr.Unmap(), nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
