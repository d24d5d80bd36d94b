package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mempool-risk-engine/internal/domain/entity"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Monitor  MonitorConfig          `mapstructure:"monitor"`
	Chains   map[string]ChainConfig `mapstructure:"chains"`
	Analyzer AnalyzerConfig         `mapstructure:"analyzer"`
	Risk     RiskConfig             `mapstructure:"risk"`
	Pipeline PipelineConfig         `mapstructure:"pipeline"`
	NATS     NATSConfig             `mapstructure:"nats"`
	Kafka    KafkaConfig            `mapstructure:"kafka"`
	Neo4J    Neo4JConfig            `mapstructure:"neo4j"`
	Health   HealthConfig           `mapstructure:"health"`
}

// AppConfig represents application-specific configuration
type AppConfig struct {
	Env      string           `mapstructure:"env"`
	LogLevel string           `mapstructure:"log_level"`
	HTTPPort int              `mapstructure:"http_port"`
	Workers  WorkerPoolConfig `mapstructure:"workers"`
}

// WorkerPoolConfig sizes the priority classes of the worker pool
type WorkerPoolConfig struct {
	Critical   int `mapstructure:"critical"`
	Urgent     int `mapstructure:"urgent"`
	Normal     int `mapstructure:"normal"`
	Background int `mapstructure:"background"`
	QueueSize  int `mapstructure:"queue_size"`
}

// MonitorConfig tunes mempool ingestion
type MonitorConfig struct {
	Chains              []string      `mapstructure:"chains"`
	MinValueETH         float64       `mapstructure:"min_value_eth"`
	MinGasPriceGwei     float64       `mapstructure:"min_gas_price_gwei"`
	RouterAllowlistOnly bool          `mapstructure:"router_allowlist_only"`
	MaxAge              time.Duration `mapstructure:"max_age"`
	MaxCacheSize        int           `mapstructure:"max_cache_size"`
	EvictionInterval    time.Duration `mapstructure:"eviction_interval"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	BackoffStep         time.Duration `mapstructure:"backoff_step"`
	MaxBackoff          time.Duration `mapstructure:"max_backoff"`
	MaxRetries          int           `mapstructure:"max_retries"`
	CallbackTimeout     time.Duration `mapstructure:"callback_timeout"`
}

// ChainConfig describes one monitored chain
type ChainConfig struct {
	ChainID        uint64   `mapstructure:"chain_id"`
	WSEndpoints    []string `mapstructure:"ws_endpoints"`
	RPCURL         string   `mapstructure:"rpc_url"`
	Routers        []string `mapstructure:"routers"`
	Factory        string   `mapstructure:"factory"`
	InitCodeHash   string   `mapstructure:"init_code_hash"`
	WrappedNative  string   `mapstructure:"wrapped_native"`
	NativePriceUSD float64  `mapstructure:"native_price_usd"`
}

// AnalyzerConfig holds transaction analyzer thresholds
type AnalyzerConfig struct {
	HighGasPriceGwei      float64       `mapstructure:"high_gas_price_gwei"`
	LargeTradeETH         float64       `mapstructure:"large_trade_eth"`
	HighSlippagePct       float64       `mapstructure:"high_slippage_pct"`
	FrontRunMaxGasGwei    float64       `mapstructure:"front_run_max_gas_gwei"`
	FrontRunMinAmountETH  float64       `mapstructure:"front_run_min_amount_eth"`
	FlashLoanInputLen     int           `mapstructure:"flash_loan_input_len"`
	CopyTradeMinETH       float64       `mapstructure:"copy_trade_min_eth"`
	CopyTradeMaxRisk      float64       `mapstructure:"copy_trade_max_risk"`
	ArbitrageMinImpactPct float64       `mapstructure:"arbitrage_min_impact_pct"`
	ArbitrageProfitShare  float64       `mapstructure:"arbitrage_profit_share"`
	MetadataTimeout       time.Duration `mapstructure:"metadata_timeout"`
}

// RiskConfig configures the risk assessment coordinator
type RiskConfig struct {
	DefaultProfile     string        `mapstructure:"default_profile"`
	Mode               string        `mapstructure:"mode"`
	CheckTimeout       time.Duration `mapstructure:"check_timeout"`
	AssessmentTimeout  time.Duration `mapstructure:"assessment_timeout"`
	QuickCheckTimeout  time.Duration `mapstructure:"quick_check_timeout"`
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	BulkConcurrency    int           `mapstructure:"bulk_concurrency"`
	SlowCheckThreshold time.Duration `mapstructure:"slow_check_threshold"`
}

// PipelineConfig controls the monitor → analyzer → coordinator flow
type PipelineConfig struct {
	AssessSwaps           bool          `mapstructure:"assess_swaps"`
	SubmitApproved        bool          `mapstructure:"submit_approved"`
	DedupTTL              time.Duration `mapstructure:"dedup_ttl"`
	MinAnalysisConfidence float64       `mapstructure:"min_analysis_confidence"`
	RecordSwaps           bool          `mapstructure:"record_swaps"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	SubjectPrefix      string        `mapstructure:"subject_prefix"`
	ConsumerGroup      string        `mapstructure:"consumer_group"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReconnectAttempts  int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay     time.Duration `mapstructure:"reconnect_delay"`
	MaxPendingMessages int           `mapstructure:"max_pending_messages"`
	Enabled            bool          `mapstructure:"enabled"`
}

// KafkaConfig configures the optional Kafka event sink
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	ClientID        string   `mapstructure:"client_id"`
	AnalysisTopic   string   `mapstructure:"analysis_topic"`
	AssessmentTopic string   `mapstructure:"assessment_topic"`
}

// Neo4JConfig represents Neo4J configuration
type Neo4JConfig struct {
	Enabled                      bool          `mapstructure:"enabled"`
	URI                          string        `mapstructure:"uri"`
	Username                     string        `mapstructure:"username"`
	Password                     string        `mapstructure:"password"`
	Database                     string        `mapstructure:"database"`
	ConnectTimeout               time.Duration `mapstructure:"connect_timeout"`
	MaxConnectionPoolSize        int           `mapstructure:"max_connection_pool_size"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Load loads configuration from .env, environment variables and config files
func Load() (*Config, error) {
	// .env is optional; real environment wins over it
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mempool-risk-engine")

	return load(v)
}

// LoadFile loads configuration from an explicit file path
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	// Environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects static configuration the engine cannot run with
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return errors.New("config: no chains configured")
	}
	for _, name := range c.Monitor.Chains {
		if _, ok := c.Chains[name]; !ok {
			return fmt.Errorf("config: monitored chain %q is not defined under chains", name)
		}
	}
	if c.Monitor.MaxCacheSize <= 0 {
		return errors.New("config: monitor.max_cache_size must be positive")
	}
	if _, err := entity.ParseRiskProfileName(c.Risk.DefaultProfile); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := entity.ParseExecutionMode(c.Risk.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	// Sequential mode runs every check back to back inside the assessment budget
	if c.Risk.CheckTimeout > 0 && c.Risk.AssessmentTimeout > 0 {
		worst := time.Duration(len(entity.AllCheckTypes)) * c.Risk.CheckTimeout
		if c.Risk.AssessmentTimeout < worst {
			return fmt.Errorf("config: risk.assessment_timeout %s is below %d checks x risk.check_timeout (%s)",
				c.Risk.AssessmentTimeout, len(entity.AllCheckTypes), worst)
		}
	}
	return nil
}

// Chain returns the named chain config
func (c *Config) Chain(name string) (ChainConfig, bool) {
	chain, ok := c.Chains[name]
	return chain, ok
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.workers.critical", 2)
	v.SetDefault("app.workers.urgent", 8)
	v.SetDefault("app.workers.normal", 4)
	v.SetDefault("app.workers.background", 2)
	v.SetDefault("app.workers.queue_size", 256)

	// Monitor defaults
	v.SetDefault("monitor.chains", []string{"ethereum"})
	v.SetDefault("monitor.min_value_eth", 0.0)
	v.SetDefault("monitor.min_gas_price_gwei", 0.0)
	v.SetDefault("monitor.router_allowlist_only", false)
	v.SetDefault("monitor.max_age", "5m")
	v.SetDefault("monitor.max_cache_size", 10000)
	v.SetDefault("monitor.eviction_interval", "30s")
	v.SetDefault("monitor.connect_timeout", "10s")
	v.SetDefault("monitor.heartbeat_interval", "20s")
	v.SetDefault("monitor.reconnect_delay", "2s")
	v.SetDefault("monitor.backoff_step", "10s")
	v.SetDefault("monitor.max_backoff", "60s")
	v.SetDefault("monitor.max_retries", 10)
	v.SetDefault("monitor.callback_timeout", "500ms")

	// Chain defaults (Ethereum mainnet, Uniswap V2)
	v.SetDefault("chains.ethereum.chain_id", 1)
	v.SetDefault("chains.ethereum.ws_endpoints", []string{"ws://localhost:8546"})
	v.SetDefault("chains.ethereum.rpc_url", "http://localhost:8545")
	v.SetDefault("chains.ethereum.routers", []string{
		"0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
		"0xe592427a0aece92de3edee1f18e0157c05861564", // Uniswap V3 router
		"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45", // Uniswap V3 router02
		"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f", // Sushiswap router
	})
	v.SetDefault("chains.ethereum.factory", "0x5c69bee701ef814a2b6a3edd4b1652cb9cc5aa6f")
	v.SetDefault("chains.ethereum.init_code_hash", "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
	v.SetDefault("chains.ethereum.wrapped_native", "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	v.SetDefault("chains.ethereum.native_price_usd", 3000.0)

	// Analyzer defaults
	v.SetDefault("analyzer.high_gas_price_gwei", 100.0)
	v.SetDefault("analyzer.large_trade_eth", 10.0)
	v.SetDefault("analyzer.high_slippage_pct", 3.0)
	v.SetDefault("analyzer.front_run_max_gas_gwei", 20.0)
	v.SetDefault("analyzer.front_run_min_amount_eth", 5.0)
	v.SetDefault("analyzer.flash_loan_input_len", 2000)
	v.SetDefault("analyzer.copy_trade_min_eth", 1.0)
	v.SetDefault("analyzer.copy_trade_max_risk", 0.3)
	v.SetDefault("analyzer.arbitrage_min_impact_pct", 2.0)
	v.SetDefault("analyzer.arbitrage_profit_share", 0.5)
	v.SetDefault("analyzer.metadata_timeout", "100ms")

	// Risk defaults
	v.SetDefault("risk.default_profile", string(entity.ProfileModerate))
	v.SetDefault("risk.mode", string(entity.ModeParallel))
	v.SetDefault("risk.check_timeout", "1250ms")
	v.SetDefault("risk.assessment_timeout", "8s")
	v.SetDefault("risk.quick_check_timeout", "1s")
	v.SetDefault("risk.max_concurrency", 6)
	v.SetDefault("risk.bulk_concurrency", 4)
	v.SetDefault("risk.slow_check_threshold", "1s")

	// Pipeline defaults
	v.SetDefault("pipeline.assess_swaps", true)
	v.SetDefault("pipeline.submit_approved", false)
	v.SetDefault("pipeline.dedup_ttl", "2m")
	v.SetDefault("pipeline.min_analysis_confidence", 0.6)
	v.SetDefault("pipeline.record_swaps", false)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "mempool")
	v.SetDefault("nats.consumer_group", "risk-engine")
	v.SetDefault("nats.connect_timeout", "10s")
	v.SetDefault("nats.reconnect_attempts", 5)
	v.SetDefault("nats.reconnect_delay", "2s")
	v.SetDefault("nats.max_pending_messages", 10000)
	v.SetDefault("nats.enabled", false)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "mempool-risk-engine")
	v.SetDefault("kafka.analysis_topic", "mempool.analysis")
	v.SetDefault("kafka.assessment_topic", "mempool.assessments")

	// Neo4J defaults
	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")
	v.SetDefault("neo4j.connect_timeout", "10s")
	v.SetDefault("neo4j.max_connection_pool_size", 50)
	v.SetDefault("neo4j.connection_acquisition_timeout", "60s")

	// Health defaults
	v.SetDefault("health.interval", "30s")
	v.SetDefault("health.timeout", "5s")

	// Bind env for NATS URL
	_ = v.BindEnv("nats.url", "NATS_URL")
}
