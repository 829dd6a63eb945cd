package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultAgentInterval   = 10 * time.Second
	defaultRulesPath       = "rules.yaml"
	defaultRulesDebounce   = 250 * time.Millisecond
	defaultNetworkKind     = "inet"
	defaultStreamMin       = 10 * time.Second
	defaultStreamMax       = 300 * time.Second
	defaultStreamDelay     = 5 * time.Second
	defaultStreamTopN      = 5
	defaultDBDriver        = "memory"
	defaultDBHost          = "127.0.0.1"
	defaultDBPort          = 5432
	defaultDBName          = "sentinel"
	defaultDBUser          = "sentinel"
	defaultSQLitePath      = "sentinel.db"
	defaultMemoryCapacity  = 10000
	defaultNATSURL         = "nats://127.0.0.1:4222"
	defaultNATSSubject     = "sentinel.alerts"
	defaultNATSEncoding    = "json"
	defaultNATSName        = "sentinel"
	defaultHTTPListen      = "127.0.0.1:8000"
	defaultGRPCListen      = "127.0.0.1:9090"
	defaultPprofListen     = "127.0.0.1:6060"
	defaultShutdownTimeout = 10 * time.Second
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the root agent configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Global     GlobalConfig     `toml:"global"`
	Log        LogConfig        `toml:"log"`
	Pprof      PprofConfig      `toml:"pprof"`
	Agent      AgentConfig      `toml:"agent"`
	Rules      RulesConfig      `toml:"rules"`
	Collectors CollectorsConfig `toml:"collectors"`
	Stream     StreamConfig     `toml:"stream"`
	DB         DBConfig         `toml:"db"`
	NATS       NATSConfig       `toml:"nats"`
	HTTP       HTTPConfig       `toml:"http"`
	GRPC       GRPCConfig       `toml:"grpc"`
}

// GlobalConfig contains identity tags stamped on published alerts.
// Params: configured global tags.
// Returns: global tag settings.
type GlobalConfig struct {
	DC      string `toml:"dc"`
	Project string `toml:"project"`
	Role    string `toml:"role"`
	Host    string `toml:"host"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// AgentConfig controls the background scan loop.
type AgentConfig struct {
	Interval        Duration `toml:"interval"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// RulesConfig locates the rule document and its hot-reload behavior.
type RulesConfig struct {
	Path     string   `toml:"path"`
	Watch    bool     `toml:"watch"`
	Debounce Duration `toml:"debounce"`
}

// CollectorsConfig toggles and tunes built-in collectors.
type CollectorsConfig struct {
	Process ProcessCollectorConfig `toml:"process"`
	Network NetworkCollectorConfig `toml:"network"`
}

// ProcessCollectorConfig configures process sampling.
// Params: enabled toggle (default true) and name globs to skip.
// Returns: process collector settings.
type ProcessCollectorConfig struct {
	Enabled      *bool    `toml:"enabled"`
	ExcludeNames []string `toml:"exclude_names"`
}

// NetworkCollectorConfig configures connection sampling.
// Params: enabled toggle (default true) and gopsutil connection kind.
// Returns: network collector settings.
type NetworkCollectorConfig struct {
	Enabled *bool  `toml:"enabled"`
	Kind    string `toml:"kind"`
}

// StreamConfig bounds live monitoring sessions.
type StreamConfig struct {
	MinDuration Duration `toml:"min_duration"`
	MaxDuration Duration `toml:"max_duration"`
	Delay       Duration `toml:"delay"`
	TopN        int      `toml:"top_n"`
}

// DBConfig selects the event/alert repository.
// Params: driver postgres|sqlite|memory and its connection options.
// Returns: storage settings.
type DBConfig struct {
	Driver         string `toml:"driver"`
	DSN            string `toml:"dsn"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	Name           string `toml:"name"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	SSLMode        string `toml:"sslmode"`
	MemoryCapacity int    `toml:"memory_capacity"`
}

// NATSConfig configures alert fan-out.
type NATSConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url"`
	Subject  string `toml:"subject"`
	Encoding string `toml:"encoding"`
	Name     string `toml:"name"`
}

// HTTPConfig configures the control API.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// GRPCConfig configures the gRPC health endpoint.
type GRPCConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// IsEnabled reports the toggle, defaulting to true when unset.
func (c ProcessCollectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// IsEnabled reports the toggle, defaulting to true when unset.
func (c NetworkCollectorConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Load reads config from file or directory, expands env vars, applies defaults, and validates it.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
// Params: none.
// Returns: config usable without a file, or hostname resolution error.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes or error.
func readConfigSource(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, nil
	}

	return readConfigDir(path)
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Global.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.Global.Host = host
	}

	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	durationOrDefault(&c.Agent.Interval, defaultAgentInterval)
	durationOrDefault(&c.Agent.ShutdownTimeout, defaultShutdownTimeout)

	if strings.TrimSpace(c.Rules.Path) == "" {
		c.Rules.Path = defaultRulesPath
	}
	durationOrDefault(&c.Rules.Debounce, defaultRulesDebounce)

	c.Collectors.Network.Kind = lowerOrDefault(c.Collectors.Network.Kind, defaultNetworkKind)

	durationOrDefault(&c.Stream.MinDuration, defaultStreamMin)
	durationOrDefault(&c.Stream.MaxDuration, defaultStreamMax)
	durationOrDefault(&c.Stream.Delay, defaultStreamDelay)
	if c.Stream.TopN == 0 {
		c.Stream.TopN = defaultStreamTopN
	}

	c.DB.Driver = lowerOrDefault(c.DB.Driver, defaultDBDriver)
	switch c.DB.Driver {
	case "postgres":
		if strings.TrimSpace(c.DB.Host) == "" {
			c.DB.Host = defaultDBHost
		}
		if c.DB.Port == 0 {
			c.DB.Port = defaultDBPort
		}
		if strings.TrimSpace(c.DB.Name) == "" {
			c.DB.Name = defaultDBName
		}
		if strings.TrimSpace(c.DB.User) == "" {
			c.DB.User = defaultDBUser
		}
		c.DB.SSLMode = lowerOrDefault(c.DB.SSLMode, "disable")
	case "sqlite":
		if strings.TrimSpace(c.DB.DSN) == "" {
			c.DB.DSN = defaultSQLitePath
		}
	}
	if c.DB.MemoryCapacity == 0 {
		c.DB.MemoryCapacity = defaultMemoryCapacity
	}

	if strings.TrimSpace(c.NATS.URL) == "" {
		c.NATS.URL = defaultNATSURL
	}
	if strings.TrimSpace(c.NATS.Subject) == "" {
		c.NATS.Subject = defaultNATSSubject
	}
	c.NATS.Encoding = lowerOrDefault(c.NATS.Encoding, defaultNATSEncoding)
	if strings.TrimSpace(c.NATS.Name) == "" {
		c.NATS.Name = defaultNATSName
	}

	if strings.TrimSpace(c.HTTP.Listen) == "" {
		c.HTTP.Listen = defaultHTTPListen
	}
	if strings.TrimSpace(c.GRPC.Listen) == "" {
		c.GRPC.Listen = defaultGRPCListen
	}

	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.Global.Host) == "" {
		return fmt.Errorf("global.host resolved to empty value")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validateListen("pprof", c.Pprof.Enabled, c.Pprof.Listen); err != nil {
		return err
	}
	if c.Agent.Interval.Duration <= 0 {
		return fmt.Errorf("agent.interval must be > 0")
	}
	if c.Rules.Debounce.Duration <= 0 {
		return fmt.Errorf("rules.debounce must be > 0")
	}
	if err := validateNetworkKind("collectors.network.kind", c.Collectors.Network.Kind); err != nil {
		return err
	}
	if err := validateStream("stream", c.Stream); err != nil {
		return err
	}
	if err := validateDB("db", c.DB); err != nil {
		return err
	}
	if err := validateNATS("nats", c.NATS); err != nil {
		return err
	}
	if err := validateListen("http", c.HTTP.Enabled, c.HTTP.Listen); err != nil {
		return err
	}
	if err := validateListen("grpc", c.GRPC.Enabled, c.GRPC.Listen); err != nil {
		return err
	}

	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "panic", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateListen validates optional listener settings.
// Params: path is config path prefix; enabled toggle; listen host:port.
// Returns: validation error for invalid listen endpoint.
func validateListen(path string, enabled bool, listen string) error {
	if !enabled {
		return nil
	}
	if strings.TrimSpace(listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

func validateNetworkKind(path, kind string) error {
	switch kind {
	case "inet", "inet4", "inet6", "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6", "unix", "all":
		return nil
	default:
		return fmt.Errorf("%s: unsupported value %q", path, kind)
	}
}

func validateStream(path string, cfg StreamConfig) error {
	if cfg.MinDuration.Duration <= 0 {
		return fmt.Errorf("%s.min_duration must be > 0", path)
	}
	if cfg.MaxDuration.Duration < cfg.MinDuration.Duration {
		return fmt.Errorf("%s.max_duration must be >= min_duration", path)
	}
	if cfg.Delay.Duration <= 0 {
		return fmt.Errorf("%s.delay must be > 0", path)
	}
	if cfg.TopN <= 0 {
		return fmt.Errorf("%s.top_n must be > 0", path)
	}
	return nil
}

// validateDB validates storage driver settings.
// Params: path is config path prefix; cfg db section.
// Returns: validation error for unknown driver or missing connection fields.
func validateDB(path string, cfg DBConfig) error {
	switch cfg.Driver {
	case "postgres":
		if strings.TrimSpace(cfg.DSN) != "" {
			return nil
		}
		if strings.TrimSpace(cfg.Host) == "" {
			return fmt.Errorf("%s.host cannot be empty", path)
		}
		if cfg.Port <= 0 || cfg.Port > 65535 {
			return fmt.Errorf("%s.port must be in 1..65535", path)
		}
		if strings.TrimSpace(cfg.Name) == "" {
			return fmt.Errorf("%s.name cannot be empty", path)
		}
		if strings.TrimSpace(cfg.User) == "" {
			return fmt.Errorf("%s.user cannot be empty", path)
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DSN) == "" {
			return fmt.Errorf("%s.dsn cannot be empty", path)
		}
	case "memory":
	default:
		return fmt.Errorf("%s.driver: unsupported value %q", path, cfg.Driver)
	}
	if cfg.MemoryCapacity < 0 {
		return fmt.Errorf("%s.memory_capacity must be >= 0", path)
	}
	return nil
}

func validateNATS(path string, cfg NATSConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return fmt.Errorf("%s.url cannot be empty when enabled", path)
	}
	if strings.ContainsAny(cfg.Subject, " \t*>") {
		return fmt.Errorf("%s.subject must be a literal subject", path)
	}
	switch cfg.Encoding {
	case "json", "proto":
		return nil
	default:
		return fmt.Errorf("%s.encoding: unsupported value %q", path, cfg.Encoding)
	}
}

// durationOrDefault replaces unset durations with fallback.
func durationOrDefault(target *Duration, fallback time.Duration) {
	if target.Duration == 0 {
		target.Duration = fallback
	}
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
