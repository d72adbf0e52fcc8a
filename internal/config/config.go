// Package config loads orchestrator configuration from a config file,
// environment variables, and CLI flags (spec.md §6), in that increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MCPServerDecl is a statically declared MCP server (spec.md §6 mcpServers).
type MCPServerDecl struct {
	Path         string   `mapstructure:"path"`
	Type         string   `mapstructure:"type"` // "node" | "python"
	Capabilities []string `mapstructure:"capabilities"`
}

// PeerDecl is a statically declared agent or service. It is parsed into
// Config but not read anywhere else: real peers register dynamically over
// the wire, and declared peers do not appear in discovery before they
// connect.
type PeerDecl struct {
	Capabilities []string `mapstructure:"capabilities"`
}

// OrchestratorSection holds the orchestrator's own runtime knobs.
type OrchestratorSection struct {
	AgentPort   int    `mapstructure:"agentPort"`
	ClientPort  int    `mapstructure:"clientPort"`
	ServicePort int    `mapstructure:"servicePort"`
	LogLevel    string `mapstructure:"logLevel"`
	TaskTimeout int    `mapstructure:"taskTimeout"` // seconds
}

// NATSSection configures the optional NATS-backed event bus.
type NATSSection struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// Config is the full static configuration, per spec.md §6's file shape.
type Config struct {
	MCPServers   map[string]MCPServerDecl `mapstructure:"mcpServers"`
	Agents       map[string]PeerDecl      `mapstructure:"agents"`
	Services     map[string]PeerDecl      `mapstructure:"services"`
	Orchestrator OrchestratorSection      `mapstructure:"orchestrator"`
	NATS         NATSSection              `mapstructure:"nats"`
}

// TaskTimeoutDuration returns the configured task timeout as a Duration.
func (o OrchestratorSection) TaskTimeoutDuration() time.Duration {
	return time.Duration(o.TaskTimeout) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("orchestrator.agentPort", 3000)
	v.SetDefault("orchestrator.clientPort", 3001)
	v.SetDefault("orchestrator.servicePort", 3002)
	v.SetDefault("orchestrator.logLevel", "info")
	v.SetDefault("orchestrator.taskTimeout", 30)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "orchestrator-core")
	v.SetDefault("nats.maxReconnects", 10)
}

// Flags holds the CLI overrides from spec.md §6.
type Flags struct {
	AgentPort   int
	ClientPort  int
	ServicePort int
	LogLevel    string
	ConfigPath  string
}

// RegisterFlags adds the orchestrator's CLI flags to the given flag set.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{}
	fs.IntVar(&f.AgentPort, "agentPort", 0, "agent WebSocket listener port")
	fs.IntVar(&f.ClientPort, "clientPort", 0, "client WebSocket listener port")
	fs.IntVar(&f.ServicePort, "servicePort", 0, "service WebSocket listener port")
	fs.StringVar(&f.LogLevel, "logLevel", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.ConfigPath, "config", "", "path to the configuration file")
	return f
}

// Load reads configuration from the file at configPath (or default search
// paths if empty), environment variables, and applies CLI flag overrides.
// CLI flags win over environment, which wins over the file, which wins over
// the built-in defaults.
func Load(configPath string, flags *Flags) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// spec.md §6 names these legacy, non-prefixed env vars explicitly.
	_ = v.BindEnv("orchestrator.agentPort", "PORT")
	_ = v.BindEnv("orchestrator.clientPort", "CLIENT_PORT")
	_ = v.BindEnv("orchestrator.servicePort", "SERVICE_PORT")
	_ = v.BindEnv("orchestrator.logLevel", "LOG_LEVEL")

	v.SetConfigType("json")
	v.SetConfigName("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/orchestrator/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(configPath); configPath == "" || os.IsNotExist(statErr) {
				// No file found anywhere searched: fall back to defaults.
			} else {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if flags != nil {
		if flags.AgentPort != 0 {
			cfg.Orchestrator.AgentPort = flags.AgentPort
		}
		if flags.ClientPort != 0 {
			cfg.Orchestrator.ClientPort = flags.ClientPort
		}
		if flags.ServicePort != 0 {
			cfg.Orchestrator.ServicePort = flags.ServicePort
		}
		if flags.LogLevel != "" {
			cfg.Orchestrator.LogLevel = flags.LogLevel
		}
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	for name, port := range map[string]int{
		"orchestrator.agentPort":   cfg.Orchestrator.AgentPort,
		"orchestrator.clientPort":  cfg.Orchestrator.ClientPort,
		"orchestrator.servicePort": cfg.Orchestrator.ServicePort,
	} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Sprintf("%s must be between 1 and 65535", name))
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Orchestrator.LogLevel)] {
		errs = append(errs, "orchestrator.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Orchestrator.TaskTimeout <= 0 {
		errs = append(errs, "orchestrator.taskTimeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
