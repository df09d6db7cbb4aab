package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Domain    DomainConfig
	Endpoints []EndpointConfig
	Providers ProvidersConfig
	Failover  FailoverConfig
	Verify    VerifyConfig
	Artifacts ArtifactsConfig
	Redis     RedisConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DomainConfig struct {
	Name      string
	Subdomain string
	TTL       int
}

type EndpointConfig struct {
	Name   string
	URL    string
	Target string
}

type ProvidersConfig struct {
	Porkbun    ProviderConfig
	Cloudflare ProviderConfig
	Netlify    ProviderConfig
}

type ProviderConfig struct {
	Enabled  bool
	BaseURL  string
	Priority int
}

type FailoverConfig struct {
	BaseInterval         time.Duration
	AcceleratedInterval  time.Duration
	ProbeTimeout         time.Duration
	FailureThreshold     int
	RecoveryThreshold    int
	StabilityThreshold   int
	OptimizationRatio    float64
	HistorySize          int
	HistoryMaxAge        time.Duration
	ProviderRateLimit    float64
	ProviderHealthChecks time.Duration
}

type VerifyConfig struct {
	Interval       time.Duration
	Timeout        time.Duration
	Resolvers      []string
	DoHEndpoints   []string
	QuorumScore    int
	ResolverQuorum float64
}

type ArtifactsConfig struct {
	ReportsDir string
	LogsDir    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("FAILOVER")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8090")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("domain.ttl", 300)
	viper.SetDefault("providers.porkbun.baseurl", "https://api.porkbun.com/api/json/v3")
	viper.SetDefault("providers.porkbun.priority", 1)
	viper.SetDefault("providers.cloudflare.baseurl", "https://api.cloudflare.com/client/v4")
	viper.SetDefault("providers.cloudflare.priority", 2)
	viper.SetDefault("providers.netlify.baseurl", "https://api.netlify.com/api/v1")
	viper.SetDefault("providers.netlify.priority", 3)
	viper.SetDefault("failover.baseinterval", "30s")
	viper.SetDefault("failover.acceleratedinterval", "1s")
	viper.SetDefault("failover.probetimeout", "5s")
	viper.SetDefault("failover.failurethreshold", 2)
	viper.SetDefault("failover.recoverythreshold", 3)
	viper.SetDefault("failover.stabilitythreshold", 10)
	viper.SetDefault("failover.optimizationratio", 0.5)
	viper.SetDefault("failover.historysize", 100)
	viper.SetDefault("failover.historymaxage", "1h")
	viper.SetDefault("failover.providerratelimit", 2.0)
	viper.SetDefault("failover.providerhealthchecks", "10s")
	viper.SetDefault("verify.interval", "10s")
	viper.SetDefault("verify.timeout", "5m")
	viper.SetDefault("verify.resolvers", []string{
		"8.8.8.8:53", "1.1.1.1:53", "9.9.9.9:53", "208.67.222.222:53",
	})
	viper.SetDefault("verify.dohendpoints", []string{
		"https://dns.google/resolve",
		"https://cloudflare-dns.com/dns-query",
	})
	viper.SetDefault("verify.quorumscore", 3)
	viper.SetDefault("verify.resolverquorum", 0.5)
	viper.SetDefault("artifacts.reportsdir", "reports")
	viper.SetDefault("artifacts.logsdir", "logs")
	viper.SetDefault("redis.db", 0)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}

	// Default endpoints if not configured
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = []EndpointConfig{
			{Name: "Primary", URL: "https://primary.netlify.app", Target: "primary.netlify.app"},
			{Name: "Secondary", URL: "https://secondary.netlify.app", Target: "secondary.netlify.app"},
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Failover.FailureThreshold < 1 {
		return fmt.Errorf("failover.failurethreshold must be >= 1, got %d", c.Failover.FailureThreshold)
	}
	if c.Failover.RecoveryThreshold < 1 {
		return fmt.Errorf("failover.recoverythreshold must be >= 1, got %d", c.Failover.RecoveryThreshold)
	}
	if c.Failover.OptimizationRatio <= 0 || c.Failover.OptimizationRatio >= 1 {
		return fmt.Errorf("failover.optimizationratio must be in (0,1), got %v", c.Failover.OptimizationRatio)
	}
	if c.Verify.ResolverQuorum <= 0 || c.Verify.ResolverQuorum > 1 {
		return fmt.Errorf("verify.resolverquorum must be in (0,1], got %v", c.Verify.ResolverQuorum)
	}
	for _, ep := range c.Endpoints {
		if ep.Name == "" || ep.Target == "" {
			return fmt.Errorf("endpoint entries require name and target")
		}
	}
	return nil
}
