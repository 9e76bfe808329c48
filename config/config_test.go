package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mioxtw/sol-wallet-monitor/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	bob   = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv(adminTokenEnv, "")
	t.Setenv(logLevelEnv, "")
	cfg, err := Parse([]byte("wallets: []\n"))
	require.NoError(t, err)

	assert.Equal(t, SourceAccount, cfg.Stream.Source)
	assert.Equal(t, defaultStreamEndpoint, cfg.Stream.Endpoint)
	assert.Equal(t, 10*time.Second, cfg.Stream.ReconnectDelay)
	assert.Equal(t, "127.0.0.1:3000", cfg.Server.Addr())
	assert.Equal(t, BackendWAL, cfg.History.Backend)
	assert.Equal(t, 1_000_000, cfg.History.Cap)
	assert.Zero(t, cfg.History.MaxSegments, "wal history is unbounded by default")
	assert.True(t, cfg.Policy.PersistEpsilon.Equal(decimal.New(1, -6)))
	assert.True(t, cfg.Policy.BroadcastEpsilon.Equal(decimal.New(1, -12)))
	assert.True(t, cfg.Policy.RecordInitialPoint)
	assert.Equal(t, 1000, cfg.Policy.ChartPoints)
	assert.Equal(t, 100, cfg.Policy.SummaryPoints)
	assert.Equal(t, time.Second, cfg.Policy.BroadcastInterval)
	assert.True(t, cfg.Reconcile.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Wallets)
	assert.Empty(t, cfg.Server.AdminToken)
}

func TestParse_Full(t *testing.T) {
	doc := `
stream:
  source: transaction
  poll_interval: 2s
rpc:
  endpoint: https://rpc.example.com
  retries: 0
server:
  port: 8080
  admin_token: secret
history:
  backend: redis
  redis_url: redis://localhost:6379/0
  max_segments: 500
policy:
  record_initial_point: false
  persist_epsilon: "0.01"
reconcile:
  enabled: false
  schedule: "0 */10 * * * *"
wallets:
  - address: ` + alice + `
    name: main
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, SourceTransaction, cfg.Stream.Source)
	assert.Equal(t, "https://rpc.example.com", cfg.Stream.Endpoint, "transaction source polls the rpc endpoint")
	assert.Equal(t, 2*time.Second, cfg.Stream.PollInterval)
	assert.Equal(t, 0, cfg.RPC.Retries)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.AdminToken)
	assert.Equal(t, BackendRedis, cfg.History.Backend)
	assert.Equal(t, 500, cfg.History.MaxSegments)
	assert.False(t, cfg.Policy.RecordInitialPoint)
	assert.Equal(t, "0.01", cfg.Policy.PersistEpsilon.String())
	assert.False(t, cfg.Reconcile.Enabled)
	assert.Equal(t, []domain.Wallet{{Address: alice, Name: "main"}}, cfg.Wallets)
}

func TestParse_AdminTokenFromEnv(t *testing.T) {
	t.Setenv(adminTokenEnv, "from-env")
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AdminToken)
}

func TestParse_LogLevelFromEnv(t *testing.T) {
	t.Setenv(logLevelEnv, "DEBUG")
	cfg, err := Parse([]byte("logging: {level: warn}"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestParse_Errors(t *testing.T) {
	t.Setenv(logLevelEnv, "")
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad source", "stream: {source: grpc}", "'stream.source'"},
		{"bad commitment", "stream: {commitment: max}", "'stream.commitment'"},
		{"bad port", "server: {port: 70000}", "'server.port'"},
		{"bad level", "logging: {level: trace}", "'logging.level'"},
		{"bad backend", "history: {backend: sqlite}", "'history.backend'"},
		{"negative max segments", "history: {max_segments: -1}", "'history.max_segments'"},
		{"postgres without url", "history: {backend: postgres}", "'history.postgres_url'"},
		{"bad epsilon", "policy: {persist_epsilon: abc}", "'policy.persist_epsilon'"},
		{"negative epsilon", "policy: {broadcast_epsilon: \"-1\"}", "'policy.broadcast_epsilon'"},
		{"bad schedule", "reconcile: {schedule: \"every minute\"}", "'reconcile.schedule'"},
		{"bad wallet", "wallets: [{address: nope, name: x}]", "'wallets[0]'"},
		{"duplicate address", "wallets: [{address: " + alice + ", name: a}, {address: " + alice + ", name: b}]", "already monitored"},
		{"duplicate name", "wallets: [{address: " + alice + ", name: a}, {address: " + bob + ", name: a}]", "already used"},
		{"not yaml", "stream: [", "failed to parse yaml config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: {port: 4000}\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
