package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Chain     ChainConfig     `mapstructure:"chain"`
	WebAuthn  WebAuthnConfig  `mapstructure:"webauthn"`
	Payouts   PayoutsConfig   `mapstructure:"payouts"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Domains   DomainsConfig   `mapstructure:"domains"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	ClaimStateTTL  time.Duration `mapstructure:"claim_state_ttl"`
}

type RateLimitConfig struct {
	APIReadPerMinute  int `mapstructure:"api_read_per_minute"`
	APIWritePerMinute int `mapstructure:"api_write_per_minute"`
	GitHubPerMinute   int `mapstructure:"github_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type GitHubConfig struct {
	APIURL            string `mapstructure:"api_url"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecret      string `mapstructure:"client_secret"`
	RedirectURL       string `mapstructure:"redirect_url"`
	ServerToken       string `mapstructure:"server_token"`
	AppSlug           string `mapstructure:"app_slug"`
	AppID             int64  `mapstructure:"app_id"`
	AppPrivateKeyPath string `mapstructure:"app_private_key_path"`
	WebhookSecret     string `mapstructure:"webhook_secret"`
}

type ChainConfig struct {
	RPCURL              string `mapstructure:"rpc_url"`
	ChainID             int64  `mapstructure:"chain_id"`
	Network             string `mapstructure:"network"`
	DefaultToken        string `mapstructure:"default_token"`
	ServerWalletAddress string `mapstructure:"server_wallet_address"`
}

type WebAuthnConfig struct {
	RPID    string   `mapstructure:"rp_id"`
	RPName  string   `mapstructure:"rp_name"`
	Origins []string `mapstructure:"origins"`
}

type PayoutsConfig struct {
	ExecutorToken string `mapstructure:"executor_token"`
}

type WorkersConfig struct {
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
}

type DomainsConfig struct {
	AppURL string `mapstructure:"app_url"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("database.url", "file:grip.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("jwt.access_token_ttl", 24*time.Hour)
	v.SetDefault("jwt.claim_state_ttl", time.Hour)
	v.SetDefault("rate_limit.api_read_per_minute", 600)
	v.SetDefault("rate_limit.api_write_per_minute", 60)
	v.SetDefault("rate_limit.github_per_minute", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("chain.network", "testnet")
	v.SetDefault("webauthn.rp_name", "GRIP")
	v.SetDefault("workers.sync_interval", 6*time.Hour)
	v.SetDefault("workers.expiry_interval", 15*time.Minute)
	v.SetDefault("domains.app_url", "http://localhost:3000")
}
