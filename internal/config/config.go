package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the gateway service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Quota         QuotaConfig         `mapstructure:"quota"`
	ModelAccess   ModelAccessConfig   `mapstructure:"model_access"`
	Pricing       PricingConfig       `mapstructure:"pricing"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	SyncTimeout           time.Duration `mapstructure:"sync_timeout"`
	ReadHeaderTimeout     time.Duration `mapstructure:"read_header_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type AuthConfig struct {
	// DecisionCacheTTL bounds how long a cached allow/deny outcome is
	// honored. Revoked credentials keep working for at most this long;
	// flushing the authz: keyspace in Redis forces re-evaluation sooner.
	DecisionCacheTTL time.Duration `mapstructure:"decision_cache_ttl"`
	SaltSecretID     string        `mapstructure:"salt_secret_id"`
	AdminUsers       []string      `mapstructure:"admin_users"`
	OIDC             OIDCConfig    `mapstructure:"oidc"`
}

type OIDCConfig struct {
	Issuer string `mapstructure:"issuer"`
	// Audience the verifier requires on incoming tokens, usually the
	// app client id.
	ClientID string `mapstructure:"client_id"`
	// Tokens carrying this scope are machine credentials; the username
	// is taken from UsernameClaim instead of the userinfo endpoint.
	MachineScope  string        `mapstructure:"machine_scope"`
	UsernameClaim string        `mapstructure:"username_claim"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

type QuotaConfig struct {
	DefaultParameterName string        `mapstructure:"default_parameter_name"`
	FlushInterval        time.Duration `mapstructure:"flush_interval"`
	RolloverMaxAttempts  uint64        `mapstructure:"rollover_max_attempts"`
	ConfigCacheTTL       time.Duration `mapstructure:"config_cache_ttl"`
	ConfigCacheSize      int           `mapstructure:"config_cache_size"`
}

type ModelAccessConfig struct {
	DefaultParameterName string        `mapstructure:"default_parameter_name"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
	CacheSize            int           `mapstructure:"cache_size"`
}

type PricingConfig struct {
	CostTablePath string `mapstructure:"cost_table_path"`
	Region        string `mapstructure:"region"`
}

type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AWSConfig struct {
	Region string `mapstructure:"region"`
	// Static overrides for local development without AWS access.
	StaticSalt               string `mapstructure:"static_salt"`
	StaticDefaultQuota       string `mapstructure:"static_default_quota"`
	StaticDefaultModelAccess string `mapstructure:"static_default_model_access"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("GATEWAY_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("gateway")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "GATEWAY_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "GATEWAY_REDIS_URL")
	}
	if c.Upstream.BaseURL == "" {
		missing = append(missing, "GATEWAY_UPSTREAM_BASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Auth.DecisionCacheTTL <= 0 {
		return fmt.Errorf("auth.decision_cache_ttl must be > 0")
	}
	if c.Auth.SaltSecretID == "" && c.AWS.StaticSalt == "" {
		return fmt.Errorf("auth.salt_secret_id or aws.static_salt must be provided")
	}
	c.Auth.AdminUsers = normalizeStringSlice(c.Auth.AdminUsers)

	if c.Auth.OIDC.Issuer != "" {
		if c.Auth.OIDC.ClientID == "" {
			return fmt.Errorf("auth.oidc.client_id must be provided when issuer is set")
		}
		if c.Auth.OIDC.UsernameClaim == "" {
			return fmt.Errorf("auth.oidc.username_claim must be provided when issuer is set")
		}
		if c.Auth.OIDC.HTTPTimeout <= 0 {
			return fmt.Errorf("auth.oidc.http_timeout must be > 0")
		}
	}

	if c.Quota.FlushInterval <= 0 {
		return fmt.Errorf("quota.flush_interval must be > 0")
	}
	if c.Quota.RolloverMaxAttempts == 0 {
		return fmt.Errorf("quota.rollover_max_attempts must be > 0")
	}
	if c.Quota.ConfigCacheSize <= 0 {
		return fmt.Errorf("quota.config_cache_size must be > 0")
	}
	if c.Quota.DefaultParameterName == "" && c.AWS.StaticDefaultQuota == "" {
		return fmt.Errorf("quota.default_parameter_name or aws.static_default_quota must be provided")
	}

	if c.ModelAccess.CacheTTL <= 0 {
		return fmt.Errorf("model_access.cache_ttl must be > 0")
	}
	if c.ModelAccess.CacheSize <= 0 {
		return fmt.Errorf("model_access.cache_size must be > 0")
	}
	if c.ModelAccess.DefaultParameterName == "" && c.AWS.StaticDefaultModelAccess == "" {
		return fmt.Errorf("model_access.default_parameter_name or aws.static_default_model_access must be provided")
	}

	if c.Pricing.CostTablePath == "" {
		return fmt.Errorf("pricing.cost_table_path must be provided")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 20)
	v.SetDefault("server.sync_timeout", "300s")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")

	v.SetDefault("database.run_migrations", true)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("auth.decision_cache_ttl", "20m")
	v.SetDefault("auth.oidc.machine_scope", "gateway/invoke")
	v.SetDefault("auth.oidc.username_claim", "username")
	v.SetDefault("auth.oidc.http_timeout", "5s")

	v.SetDefault("quota.flush_interval", "10m")
	v.SetDefault("quota.rollover_max_attempts", 4)
	v.SetDefault("quota.config_cache_ttl", "5m")
	v.SetDefault("quota.config_cache_size", 10_000)

	v.SetDefault("model_access.cache_ttl", "5m")
	v.SetDefault("model_access.cache_size", 10_000)

	v.SetDefault("pricing.cost_table_path", "./config/cost_estimates.csv")
	v.SetDefault("pricing.region", "us-east-1")

	v.SetDefault("upstream.timeout", "280s")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("observability.enable_otlp", true)
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.otlp_endpoint", "http://localhost:4317")
}

func normalizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clean := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
