package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agents"
	"github.com/EternisAI/silo-fleet/internal/api/http"
	"github.com/EternisAI/silo-fleet/internal/approval"
	"github.com/EternisAI/silo-fleet/internal/auth"
	"github.com/EternisAI/silo-fleet/internal/commands"
	"github.com/EternisAI/silo-fleet/internal/db"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	grpctls "github.com/EternisAI/silo-fleet/internal/grpc/tls"
)

type Config struct {
	Log        LogConfig
	Http       http.Config
	Grpc       GrpcConfig
	Database   db.Config
	Redis      RedisConfig
	JWT        auth.JWTConfig
	Operators  []auth.Operator
	Agents     AgentsConfig
	Liveness   LivenessConfig
	Approval   approval.Policy
	Commands   CommandsConfig
	Enrollment EnrollmentConfig
}

type GrpcConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Port     int               `mapstructure:"port"`
	TLS      grpctls.TLSConfig `mapstructure:"tls"`
	AutoCert AutoCertConfig    `mapstructure:"auto_cert"`
}

// AutoCertConfig generates a private CA and server certificate at the TLS
// paths when they do not exist yet.
type AutoCertConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	CAKeyFile   string `mapstructure:"ca_key_file"`
	DomainNames string `mapstructure:"domain_names"`
	IPAddresses string `mapstructure:"ip_addresses"`
}

type RedisConfig struct {
	Url string `mapstructure:"url"`
}

type AgentsConfig struct {
	// Keys is the agent key ring, CSV "id=key,..." or a JSON object.
	Keys string `mapstructure:"keys"`
}

type LivenessConfig struct {
	OfflineTimeout time.Duration `mapstructure:"offline_timeout"`
}

type CommandsConfig struct {
	// RedeliverAfter enables the stale delivery reaper when positive.
	RedeliverAfter time.Duration `mapstructure:"redeliver_after"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

type EnrollmentConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	KeyTTL  time.Duration `mapstructure:"key_ttl"`
}

var config Config

func ParseCommaSeparated(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-fleet-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.format", LOG_FORMAT_TEXT)
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("jwt.expiry", "24h")
	viper.SetDefault("liveness.offline_timeout", "30s")
	viper.SetDefault("commands.sweep_interval", "30s")
	viper.SetDefault("enrollment.key_ttl", "1h")

	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("redis.url", "REDIS_URL")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("agents.keys", "AGENT_KEYS")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Initialize logger with configured level and format
	initLogger(config.Log)

	applyFallbacks(&config)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(redacted(config), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

// applyFallbacks replaces durations that cannot drive a ticker or a liveness
// window with their defaults.
func applyFallbacks(c *Config) {
	if c.Commands.RedeliverAfter > 0 && c.Commands.SweepInterval <= 0 {
		slog.Warn("commands.sweep_interval must be positive, using default",
			"configured", c.Commands.SweepInterval, "default", commands.DefaultSweepInterval)
		c.Commands.SweepInterval = commands.DefaultSweepInterval
	}
	if c.Liveness.OfflineTimeout <= 0 {
		slog.Warn("liveness.offline_timeout must be positive, using default",
			"configured", c.Liveness.OfflineTimeout, "default", agents.DefaultOfflineTimeout)
		c.Liveness.OfflineTimeout = agents.DefaultOfflineTimeout
	}
}

func redacted(c Config) Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.Http.AdminAPIKey = mask(c.Http.AdminAPIKey)
	c.JWT.Secret = mask(c.JWT.Secret)
	c.Agents.Keys = mask(c.Agents.Keys)
	c.Database.Url = mask(c.Database.Url)
	c.Redis.Url = mask(c.Redis.Url)
	ops := make([]auth.Operator, len(c.Operators))
	for i, op := range c.Operators {
		op.PasswordHash = mask(op.PasswordHash)
		ops[i] = op
	}
	c.Operators = ops
	return c
}
