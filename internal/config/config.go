package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/oplogtail/oplogtail"
)

type Config struct {
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Tail    TailConfig    `mapstructure:"tail"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
}

type MongoConfig struct {
	URI            string `mapstructure:"uri"`
	ReplicaSet     string `mapstructure:"replica_set"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

type TailConfig struct {
	Operations []string `mapstructure:"operations"`
	Namespace  string   `mapstructure:"namespace"`
	Lookback   string   `mapstructure:"lookback"`
}

type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

type AlertsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	SlackWebhook string `mapstructure:"slack_webhook"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if expanded := os.ExpandEnv(val); expanded != val {
			v.Set(key, expanded)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	if c.Mongo.ConnectTimeout != "" {
		if _, err := time.ParseDuration(c.Mongo.ConnectTimeout); err != nil {
			return fmt.Errorf("invalid mongo.connect_timeout: %w", err)
		}
	}
	if c.Tail.Lookback != "" {
		if _, err := time.ParseDuration(c.Tail.Lookback); err != nil {
			return fmt.Errorf("invalid tail.lookback: %w", err)
		}
	}

	validOps := map[string]bool{
		"n": true,
		"i": true,
		"u": true,
		"d": true,
		"c": true,
	}
	for _, op := range c.Tail.Operations {
		if !validOps[op] {
			return fmt.Errorf("invalid operation code: %s (valid options: n, i, u, d, c)", op)
		}
	}

	return nil
}

func (m *MongoConfig) ClientOptions() (*options.ClientOptions, error) {
	opts := options.Client().ApplyURI(m.URI)

	if m.ReplicaSet != "" {
		opts.SetReplicaSet(m.ReplicaSet)
	}
	if m.ConnectTimeout != "" {
		d, err := time.ParseDuration(m.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid mongo.connect_timeout: %w", err)
		}
		opts.SetConnectTimeout(d)
	}

	return opts, nil
}

// Filter builds the server-side oplog filter from the tail section. A nil
// result means nothing is configured and every entry is tailed.
func (t *TailConfig) Filter() (bson.D, error) {
	var parts []bson.D

	if len(t.Operations) > 0 {
		parts = append(parts, oplogtail.FilterOps(t.Operations...))
	}
	if t.Namespace != "" {
		parts = append(parts, oplogtail.FilterNamespace(t.Namespace))
	}
	if t.Lookback != "" {
		d, err := time.ParseDuration(t.Lookback)
		if err != nil {
			return nil, fmt.Errorf("invalid tail.lookback: %w", err)
		}
		parts = append(parts, oplogtail.FilterSince(time.Now().Add(-d)))
	}

	if len(parts) == 0 {
		return nil, nil
	}
	return oplogtail.And(parts...), nil
}
