// Package config loads the purchase watcher configuration from a YAML file,
// the environment and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full watcher configuration.
type Config struct {
	// Chain name used in logs, topics and explorer links (ethereum, base, ...)
	Chain string `yaml:"chain"`

	// ChainID is derived from Chain unless set explicitly
	ChainID uint64 `yaml:"chain_id"`

	RPC      RPCConfig      `yaml:"rpc"`
	Contract ContractConfig `yaml:"contract"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Price    PriceConfig    `yaml:"price"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// RPCConfig holds the pull (HTTP) and push (WebSocket) endpoints.
type RPCConfig struct {
	URL   string `yaml:"url"`
	WSURL string `yaml:"ws_url"`

	// Timeout bounds every head and range query
	Timeout time.Duration `yaml:"timeout"`

	// DialTimeout bounds opening a subscription
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ContractConfig identifies the presale contract being watched.
type ContractConfig struct {
	Address      string `yaml:"address"`
	BonusPercent int    `yaml:"bonus_percent"`
	Token        string `yaml:"token"`
	ExplorerURL  string `yaml:"explorer_url"`

	// Stage is the presale stage named in alerts (0 omits the call to action)
	Stage int `yaml:"stage"`
}

// IngestConfig tunes the resilience layer.
type IngestConfig struct {
	// StartBlock replays from this block on startup (0 = chain head)
	StartBlock uint64 `yaml:"start_block"`

	PollGrace    time.Duration `yaml:"poll_grace"`
	PollInterval time.Duration `yaml:"poll_interval"`

	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`

	LedgerCapacity int `yaml:"ledger_capacity"`

	// CatchUpMaxRange caps the blocks per catch-up query (0 = one query)
	CatchUpMaxRange uint64 `yaml:"catch_up_max_range"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// FatalGrace is how long the process lingers after an unrecoverable fault
	FatalGrace time.Duration `yaml:"fatal_grace"`
}

// PriceConfig configures the ETH/USD price feed.
type PriceConfig struct {
	// Enabled polls URL; when false the fallback price is used as is
	Enabled bool `yaml:"enabled"`

	URL             string        `yaml:"url"`
	Fallback        float64       `yaml:"fallback"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// SinksConfig enables the notification sinks. Every enabled sink receives
// each admitted purchase.
type SinksConfig struct {
	Log      LogSinkConfig      `yaml:"log"`
	Slack    SlackSinkConfig    `yaml:"slack"`
	Kafka    KafkaSinkConfig    `yaml:"kafka"`
	NATS     NATSSinkConfig     `yaml:"nats"`
	Redis    RedisSinkConfig    `yaml:"redis"`
	Postgres PostgresSinkConfig `yaml:"postgres"`
}

type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SlackSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	BuyURL  string `yaml:"buy_url"`
	LockURL string `yaml:"lock_url"`
}

type KafkaSinkConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	Topic      string   `yaml:"topic"`
	Partitions int32    `yaml:"partitions"`
}

type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Stream  string `yaml:"stream"`
	Subject string `yaml:"subject"`
}

type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

type PostgresSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// MetricsConfig configures the /metrics and /healthz listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Chain: "ethereum",
		RPC: RPCConfig{
			Timeout:     30 * time.Second,
			DialTimeout: 15 * time.Second,
		},
		Contract: ContractConfig{
			BonusPercent: 200,
			Token:        "MMV",
			ExplorerURL:  "https://etherscan.io/tx/",
			Stage:        1,
		},
		Ingest: IngestConfig{
			PollGrace:         120 * time.Second,
			PollInterval:      60 * time.Second,
			ReconnectBase:     2 * time.Second,
			ReconnectMax:      60 * time.Second,
			LedgerCapacity:    500,
			HeartbeatInterval: 5 * time.Minute,
			FatalGrace:        time.Second,
		},
		Price: PriceConfig{
			Enabled:         true,
			URL:             "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd",
			Fallback:        2500,
			RefreshInterval: 10 * time.Minute,
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true},
			Kafka: KafkaSinkConfig{
				Brokers:    []string{"localhost:9092"},
				Topic:      "presale-purchases",
				Partitions: 3,
			},
			NATS: NATSSinkConfig{
				URL:     "nats://localhost:4222",
				Stream:  "PURCHASES",
				Subject: "purchases",
			},
			Redis: RedisSinkConfig{
				Addr:   "localhost:6379",
				Stream: "purchases",
				MaxLen: 10000,
			},
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

// Overrides carries command-line values that take precedence over file and env.
type Overrides struct {
	RPCURL      string
	WSURL       string
	MetricsAddr string
}

// Load builds the configuration: defaults, then the YAML file (if any), then
// environment variables, then overrides.
func Load(path string, o Overrides) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)

	if o.RPCURL != "" {
		cfg.RPC.URL = o.RPCURL
	}
	if o.WSURL != "" {
		cfg.RPC.WSURL = o.WSURL
	}
	if o.MetricsAddr != "" {
		cfg.Metrics.Addr = o.MetricsAddr
	}

	if cfg.ChainID == 0 {
		cfg.ChainID = chainNameToID(cfg.Chain)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.RPC.URL, "RPC_URL")
	set(&c.RPC.WSURL, "WS_URL")
	set(&c.Contract.Address, "CONTRACT_ADDRESS")
	set(&c.Sinks.Slack.Token, "SLACK_TOKEN")
	set(&c.Sinks.Slack.Channel, "SLACK_CHANNEL")
	set(&c.Sinks.Postgres.DSN, "DATABASE_URL")
	set(&c.Sinks.Redis.Addr, "REDIS_ADDR")
	set(&c.Sinks.NATS.URL, "NATS_URL")
	if v := getenv("KAFKA_BROKERS"); v != "" {
		brokers := strings.Split(v, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		c.Sinks.Kafka.Brokers = brokers
	}
}

// Validate checks required fields and sink prerequisites.
func (c *Config) Validate() error {
	var errs []error
	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url is required"))
	}
	if c.RPC.WSURL == "" {
		errs = append(errs, errors.New("rpc.ws_url is required"))
	} else if !strings.HasPrefix(c.RPC.WSURL, "ws://") && !strings.HasPrefix(c.RPC.WSURL, "wss://") {
		errs = append(errs, fmt.Errorf("rpc.ws_url must be a websocket endpoint, got %q", c.RPC.WSURL))
	}
	if c.Contract.Address == "" {
		errs = append(errs, errors.New("contract.address is required"))
	}
	if c.Ingest.ReconnectMax < c.Ingest.ReconnectBase {
		errs = append(errs, errors.New("ingest.reconnect_max must not be below ingest.reconnect_base"))
	}
	if c.Sinks.Slack.Enabled && (c.Sinks.Slack.Token == "" || c.Sinks.Slack.Channel == "") {
		errs = append(errs, errors.New("sinks.slack requires token and channel"))
	}
	if c.Sinks.Postgres.Enabled && c.Sinks.Postgres.DSN == "" {
		errs = append(errs, errors.New("sinks.postgres requires dsn"))
	}
	if c.Sinks.Kafka.Enabled && len(c.Sinks.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("sinks.kafka requires brokers"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func chainNameToID(chain string) uint64 {
	switch chain {
	case "ethereum":
		return 1
	case "sepolia":
		return 11155111
	case "polygon":
		return 137
	case "arbitrum":
		return 42161
	case "optimism":
		return 10
	case "base":
		return 8453
	case "bsc":
		return 56
	default:
		return 0
	}
}
