package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agent"
	"github.com/EternisAI/silo-fleet/internal/agentclient"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	grpctls "github.com/EternisAI/silo-fleet/internal/grpc/tls"
)

const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

type Config struct {
	Log    LogConfig
	Http   HttpConfig
	Server ServerConfig
	Agent  AgentConfig

	Runtime agent.Config `mapstructure:",squash"`
}

// HttpConfig is the local status server. Port 0 disables it.
type HttpConfig struct {
	Port uint `mapstructure:"port"`
}

type ServerConfig struct {
	URL         string                    `mapstructure:"url"`
	Transport   string                    `mapstructure:"transport"`
	GrpcAddress string                    `mapstructure:"grpc_address"`
	Timeout     time.Duration             `mapstructure:"timeout"`
	Breaker     agentclient.BreakerConfig `mapstructure:"breaker"`
	TLS         grpctls.TLSConfig         `mapstructure:"tls"`
}

type AgentConfig struct {
	ID       string `mapstructure:"id"`
	APIKey   string `mapstructure:"api_key"`
	Platform string `mapstructure:"platform"`
}

var config Config

func InitConfig() {
	var err error

	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-fleet-agent")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.format", LOG_FORMAT_TEXT)
	viper.SetDefault("http.port", 8090)
	viper.SetDefault("server.url", "http://localhost:8080")
	viper.SetDefault("server.transport", TransportHTTP)
	viper.SetDefault("server.timeout", "10s")

	_ = viper.BindEnv("agent.id", "AGENT_ID")
	_ = viper.BindEnv("agent.api_key", "AGENT_API_KEY")
	_ = viper.BindEnv("server.url", "SERVER_URL")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		panic(err)
	}

	// Initialize logger with configured level and format
	initLogger(config.Log)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		c := config
		if c.Agent.APIKey != "" {
			c.Agent.APIKey = "***"
		}
		configJSON, err := json.MarshalIndent(c, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
