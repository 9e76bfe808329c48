package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	SourceAccount     = "account"
	SourceTransaction = "transaction"

	BackendWAL      = "wal"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	adminTokenEnv = "SOLMON_ADMIN_TOKEN"
	logLevelEnv   = "LOG_LEVEL"
)

const (
	defaultStreamEndpoint    = "wss://api.mainnet-beta.solana.com"
	defaultRPCEndpoint       = "https://api.mainnet-beta.solana.com"
	defaultCommitment        = "confirmed"
	defaultReconnectDelay    = 10 * time.Second
	defaultPollInterval      = 5 * time.Second
	defaultRPCTimeout        = 10 * time.Second
	defaultRPCRetries        = 3
	defaultHost              = "127.0.0.1"
	defaultPort              = 3000
	defaultCertCache         = "certs"
	defaultLogLevel          = "info"
	defaultLogEncoding       = "console"
	defaultHistoryDir        = "history"
	defaultHistoryCap        = 1_000_000
	defaultPersistEpsilon    = "0.000001"
	defaultBroadcastEpsilon  = "0.000000000001"
	defaultChartPoints       = 1000
	defaultSummaryPoints     = 100
	defaultBroadcastInterval = time.Second
	defaultReconcileSchedule = "@every 5m"
	defaultReconcileWorkers  = 4
)

// ScheduleParser accepts six-field cron specs with seconds and descriptors such as @every 5m.
var ScheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config validated runtime configuration.
type Config struct {
	Stream    StreamConfig
	RPC       RPCConfig
	Server    ServerConfig
	Logging   LoggingConfig
	History   HistoryConfig
	Policy    PolicyConfig
	Reconcile ReconcileConfig
	Metrics   MetricsConfig
	Wallets   []domain.Wallet
}

type StreamConfig struct {
	Endpoint       string
	Source         string
	Commitment     string
	ReconnectDelay time.Duration
	PollInterval   time.Duration
}

type RPCConfig struct {
	Endpoint string
	Timeout  time.Duration
	Retries  int
}

type ServerConfig struct {
	Host       string
	Port       int
	TLSDomains []string
	CertCache  string
	AdminToken string
}

// Addr listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LoggingConfig struct {
	Level    string
	Encoding string
}

type HistoryConfig struct {
	Backend     string
	Dir         string
	PostgresURL string
	RedisURL    string
	Cap         int
	// MaxSegments bounds the WAL backend; 0 keeps every segment.
	MaxSegments int
}

type PolicyConfig struct {
	PersistEpsilon     decimal.Decimal
	BroadcastEpsilon   decimal.Decimal
	RecordInitialPoint bool
	ChartPoints        int
	SummaryPoints      int
	BroadcastInterval  time.Duration
}

type ReconcileConfig struct {
	Enabled  bool
	Schedule string
	Workers  int
}

type MetricsConfig struct {
	Enabled bool
}

// FileConfig raw yaml document.
type FileConfig struct {
	Stream    StreamFile      `yaml:"stream,omitempty"`
	RPC       RPCFile         `yaml:"rpc,omitempty"`
	Server    ServerFile      `yaml:"server,omitempty"`
	Logging   LoggingFile     `yaml:"logging,omitempty"`
	History   HistoryFile     `yaml:"history,omitempty"`
	Policy    PolicyFile      `yaml:"policy,omitempty"`
	Reconcile ReconcileFile   `yaml:"reconcile,omitempty"`
	Metrics   MetricsFile     `yaml:"metrics,omitempty"`
	Wallets   []domain.Wallet `yaml:"wallets"`
}

type StreamFile struct {
	Endpoint       string        `yaml:"endpoint,omitempty"`
	Source         string        `yaml:"source,omitempty"`
	Commitment     string        `yaml:"commitment,omitempty"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay,omitempty"`
	PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
}

type RPCFile struct {
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  *int          `yaml:"retries,omitempty"`
}

type ServerFile struct {
	Host       string   `yaml:"host,omitempty"`
	Port       int      `yaml:"port,omitempty"`
	TLSDomains []string `yaml:"tls_domains,omitempty"`
	CertCache  string   `yaml:"cert_cache,omitempty"`
	AdminToken string   `yaml:"admin_token,omitempty"`
}

type LoggingFile struct {
	Level    string `yaml:"level,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`
}

type HistoryFile struct {
	Backend     string `yaml:"backend,omitempty"`
	Dir         string `yaml:"dir,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	Cap         int    `yaml:"cap,omitempty"`
	MaxSegments int    `yaml:"max_segments,omitempty"`
}

type PolicyFile struct {
	PersistEpsilon     string        `yaml:"persist_epsilon,omitempty"`
	BroadcastEpsilon   string        `yaml:"broadcast_epsilon,omitempty"`
	RecordInitialPoint *bool         `yaml:"record_initial_point,omitempty"`
	ChartPoints        int           `yaml:"chart_points,omitempty"`
	SummaryPoints      int           `yaml:"summary_points,omitempty"`
	BroadcastInterval  time.Duration `yaml:"broadcast_interval,omitempty"`
}

type ReconcileFile struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Schedule string `yaml:"schedule,omitempty"`
	Workers  int    `yaml:"workers,omitempty"`
}

type MetricsFile struct {
	Enabled *bool `yaml:"enabled,omitempty"`
}

// Load reads and validates the yaml config at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// Parse validates a yaml document and applies defaults.
func Parse(data []byte) (Config, error) {
	var raw FileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config: %w", err)
	}
	return raw.Build()
}

// Build validates the raw document into a Config.
func (c FileConfig) Build() (Config, error) {
	var cfg Config
	var err error

	if cfg.Stream, err = c.Stream.build(); err != nil {
		return Config{}, err
	}
	cfg.RPC = c.RPC.build()
	if cfg.Stream.Source == SourceTransaction && c.Stream.Endpoint == "" {
		cfg.Stream.Endpoint = cfg.RPC.Endpoint
	}
	if cfg.Server, err = c.Server.build(); err != nil {
		return Config{}, err
	}
	if cfg.Logging, err = c.Logging.build(); err != nil {
		return Config{}, err
	}
	if cfg.History, err = c.History.build(); err != nil {
		return Config{}, err
	}
	if cfg.Policy, err = c.Policy.build(); err != nil {
		return Config{}, err
	}
	if cfg.Reconcile, err = c.Reconcile.build(); err != nil {
		return Config{}, err
	}
	cfg.Metrics = MetricsConfig{Enabled: boolOr(c.Metrics.Enabled, true)}
	if cfg.Wallets, err = buildWallets(c.Wallets); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (s StreamFile) build() (StreamConfig, error) {
	out := StreamConfig{
		Endpoint:       strOr(s.Endpoint, defaultStreamEndpoint),
		Source:         strOr(s.Source, SourceAccount),
		Commitment:     strOr(s.Commitment, defaultCommitment),
		ReconnectDelay: durOr(s.ReconnectDelay, defaultReconnectDelay),
		PollInterval:   durOr(s.PollInterval, defaultPollInterval),
	}
	if out.Source != SourceAccount && out.Source != SourceTransaction {
		return StreamConfig{}, fmt.Errorf("incorrect 'stream.source' param in yaml config: %s, error: %w",
			out.Source, fmt.Errorf("must be %s or %s", SourceAccount, SourceTransaction))
	}
	switch out.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return StreamConfig{}, fmt.Errorf("incorrect 'stream.commitment' param in yaml config: %s, error: %w",
			out.Commitment, fmt.Errorf("must be processed, confirmed or finalized"))
	}
	return out, nil
}

func (r RPCFile) build() RPCConfig {
	retries := defaultRPCRetries
	if r.Retries != nil && *r.Retries >= 0 {
		retries = *r.Retries
	}
	return RPCConfig{
		Endpoint: strOr(r.Endpoint, defaultRPCEndpoint),
		Timeout:  durOr(r.Timeout, defaultRPCTimeout),
		Retries:  retries,
	}
}

func (s ServerFile) build() (ServerConfig, error) {
	out := ServerConfig{
		Host:       strOr(s.Host, defaultHost),
		Port:       s.Port,
		TLSDomains: s.TLSDomains,
		CertCache:  strOr(s.CertCache, defaultCertCache),
		AdminToken: strOr(s.AdminToken, os.Getenv(adminTokenEnv)),
	}
	if out.Port == 0 {
		out.Port = defaultPort
	}
	if out.Port < 0 || out.Port > 65535 {
		return ServerConfig{}, fmt.Errorf("incorrect 'server.port' param in yaml config: %d, error: %w",
			out.Port, fmt.Errorf("must be between 1 and 65535"))
	}
	return out, nil
}

func (l LoggingFile) build() (LoggingConfig, error) {
	out := LoggingConfig{
		Level:    strings.ToLower(strOr(os.Getenv(logLevelEnv), strOr(l.Level, defaultLogLevel))),
		Encoding: strOr(l.Encoding, defaultLogEncoding),
	}
	switch out.Level {
	case "debug", "info", "warn", "error":
	default:
		return LoggingConfig{}, fmt.Errorf("incorrect 'logging.level' param in yaml config: %s, error: %w",
			out.Level, fmt.Errorf("must be debug, info, warn or error"))
	}
	if out.Encoding != "console" && out.Encoding != "json" {
		return LoggingConfig{}, fmt.Errorf("incorrect 'logging.encoding' param in yaml config: %s, error: %w",
			out.Encoding, fmt.Errorf("must be console or json"))
	}
	return out, nil
}

func (h HistoryFile) build() (HistoryConfig, error) {
	out := HistoryConfig{
		Backend:     strOr(h.Backend, BackendWAL),
		Dir:         strOr(h.Dir, defaultHistoryDir),
		PostgresURL: h.PostgresURL,
		RedisURL:    h.RedisURL,
		Cap:         h.Cap,
		MaxSegments: h.MaxSegments,
	}
	if out.Cap <= 0 {
		out.Cap = defaultHistoryCap
	}
	if out.MaxSegments < 0 {
		return HistoryConfig{}, fmt.Errorf("incorrect 'history.max_segments' param in yaml config: %d, error: %w",
			out.MaxSegments, fmt.Errorf("must not be negative"))
	}
	switch out.Backend {
	case BackendWAL:
	case BackendPostgres:
		if out.PostgresURL == "" {
			return HistoryConfig{}, fmt.Errorf("incorrect 'history.postgres_url' param in yaml config, error: %w",
				fmt.Errorf("required for the postgres backend"))
		}
	case BackendRedis:
		if out.RedisURL == "" {
			return HistoryConfig{}, fmt.Errorf("incorrect 'history.redis_url' param in yaml config, error: %w",
				fmt.Errorf("required for the redis backend"))
		}
	default:
		return HistoryConfig{}, fmt.Errorf("incorrect 'history.backend' param in yaml config: %s, error: %w",
			out.Backend, fmt.Errorf("must be wal, postgres or redis"))
	}
	return out, nil
}

func (p PolicyFile) build() (PolicyConfig, error) {
	persist, err := parseEpsilon(strOr(p.PersistEpsilon, defaultPersistEpsilon))
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("incorrect 'policy.persist_epsilon' param in yaml config (correct format is 0.000001), error: %w", err)
	}
	broadcast, err := parseEpsilon(strOr(p.BroadcastEpsilon, defaultBroadcastEpsilon))
	if err != nil {
		return PolicyConfig{}, fmt.Errorf("incorrect 'policy.broadcast_epsilon' param in yaml config (correct format is 0.000000000001), error: %w", err)
	}
	out := PolicyConfig{
		PersistEpsilon:     persist,
		BroadcastEpsilon:   broadcast,
		RecordInitialPoint: boolOr(p.RecordInitialPoint, true),
		ChartPoints:        p.ChartPoints,
		SummaryPoints:      p.SummaryPoints,
		BroadcastInterval:  durOr(p.BroadcastInterval, defaultBroadcastInterval),
	}
	if out.ChartPoints <= 0 {
		out.ChartPoints = defaultChartPoints
	}
	if out.SummaryPoints <= 0 {
		out.SummaryPoints = defaultSummaryPoints
	}
	return out, nil
}

func (r ReconcileFile) build() (ReconcileConfig, error) {
	out := ReconcileConfig{
		Enabled:  boolOr(r.Enabled, true),
		Schedule: strOr(r.Schedule, defaultReconcileSchedule),
		Workers:  r.Workers,
	}
	if out.Workers <= 0 {
		out.Workers = defaultReconcileWorkers
	}
	if _, err := ScheduleParser.Parse(out.Schedule); err != nil {
		return ReconcileConfig{}, fmt.Errorf("incorrect 'reconcile.schedule' param in yaml config: %s, error: %w", out.Schedule, err)
	}
	return out, nil
}

func buildWallets(in []domain.Wallet) ([]domain.Wallet, error) {
	out := make([]domain.Wallet, 0, len(in))
	addresses := make(map[string]struct{}, len(in))
	names := make(map[string]struct{}, len(in))
	for i, w := range in {
		wallet, err := domain.NewWallet(w.Name, w.Address)
		if err != nil {
			return nil, fmt.Errorf("incorrect 'wallets[%d]' param in yaml config: %s, error: %w", i, w.Address, err)
		}
		if _, ok := addresses[wallet.Address]; ok {
			return nil, fmt.Errorf("incorrect 'wallets[%d]' param in yaml config: %s, error: %w", i, w.Address, domain.ErrDuplicateID)
		}
		if _, ok := names[wallet.Name]; ok {
			return nil, fmt.Errorf("incorrect 'wallets[%d]' param in yaml config: %s, error: %w", i, w.Name, domain.ErrDuplicateLabel)
		}
		addresses[wallet.Address] = struct{}{}
		names[wallet.Name] = struct{}{}
		out = append(out, wallet)
	}
	return out, nil
}

func parseEpsilon(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func strOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
