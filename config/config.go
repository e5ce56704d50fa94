// Package config loads the daemon settings from a YAML file and
// LABLEDGER_* environment variables.
package config

import (
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"labledger/domain/access"
	"labledger/domain/chain"
)

const EnvPrefix = "LABLEDGER"

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Listener struct {
	Addr string `mapstructure:"addr"`
}

type Storage struct {
	WALDir           string        `mapstructure:"wal_dir"`
	SegmentSize      int64         `mapstructure:"segment_size"`
	SegmentDuration  time.Duration `mapstructure:"segment_duration"`
	NoSync           bool          `mapstructure:"no_sync"`
	OutboxDir        string        `mapstructure:"outbox_dir"`
	TokenDir         string        `mapstructure:"token_dir"`
	SnapshotDir      string        `mapstructure:"snapshot_dir"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type Roles struct {
	Owner            string `mapstructure:"owner"`
	EscrowAdmin      string `mapstructure:"escrow_admin"`
	MarketplaceAdmin string `mapstructure:"marketplace_admin"`
}

type Token struct {
	Custody string `mapstructure:"custody"`
	// Genesis maps account address to a decimal balance credited once,
	// the first time the token store is opened.
	Genesis map[string]string `mapstructure:"genesis"`
}

type Kafka struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Driver       string        `mapstructure:"driver"`
	Codec        string        `mapstructure:"codec"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type Indexer struct {
	DSN     string `mapstructure:"dsn"`
	GroupID string `mapstructure:"group_id"`
}

type Config struct {
	Log     Log      `mapstructure:"log"`
	GRPC    Listener `mapstructure:"grpc"`
	Ops     Listener `mapstructure:"ops"`
	Storage Storage  `mapstructure:"storage"`
	Roles   Roles    `mapstructure:"roles"`
	Token   Token    `mapstructure:"token"`
	Kafka   Kafka    `mapstructure:"kafka"`
	Indexer Indexer  `mapstructure:"indexer"`
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("ops.addr", ":9090")
	v.SetDefault("storage.wal_dir", "./data/wal_entry")
	v.SetDefault("storage.segment_size", 2*1024*1024)
	v.SetDefault("storage.segment_duration", time.Minute)
	v.SetDefault("storage.outbox_dir", "./data/wal_exit")
	v.SetDefault("storage.token_dir", "./data/tokens")
	v.SetDefault("storage.snapshot_dir", "./data/snapshots")
	v.SetDefault("storage.snapshot_interval", 5*time.Minute)
	v.SetDefault("kafka.topic", "labledger.events")
	v.SetDefault("kafka.driver", DriverSarama)
	v.SetDefault("kafka.codec", "json")
	v.SetDefault("kafka.poll_interval", 250*time.Millisecond)
	v.SetDefault("indexer.group_id", "labledger-indexer")
}

// Load reads path (optional) and the environment. LABLEDGER_KAFKA_TOPIC
// overrides kafka.topic, and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	// AutomaticEnv does not split lists.
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
	if c.Storage.SnapshotInterval <= 0 {
		return nil, errors.Errorf("storage.snapshot_interval must be positive, got %s", c.Storage.SnapshotInterval)
	}
	return &c, nil
}

// AccessRoles parses the configured role holders.
func (c *Config) AccessRoles() (access.Roles, error) {
	var (
		r   access.Roles
		err error
	)
	if r.Owner, err = optional(c.Roles.Owner); err != nil {
		return r, errors.Wrap(err, "roles.owner")
	}
	if r.EscrowAdmin, err = optional(c.Roles.EscrowAdmin); err != nil {
		return r, errors.Wrap(err, "roles.escrow_admin")
	}
	if r.MarketplaceAdmin, err = optional(c.Roles.MarketplaceAdmin); err != nil {
		return r, errors.Wrap(err, "roles.marketplace_admin")
	}
	return r, r.Validate()
}

func (c *Config) Custody() (chain.Address, error) {
	a, err := chain.HexToAddress(c.Token.Custody)
	return a, errors.Wrap(err, "token.custody")
}

func (c *Config) GenesisBalances() (map[chain.Address]*big.Int, error) {
	out := make(map[chain.Address]*big.Int, len(c.Token.Genesis))
	for addr, amount := range c.Token.Genesis {
		a, err := chain.HexToAddress(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "token.genesis[%s]", addr)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok || !chain.ValidAmount(v) {
			return nil, errors.Errorf("token.genesis[%s]: %q is not a valid amount", addr, amount)
		}
		out[a] = v
	}
	return out, nil
}

func optional(s string) (chain.Address, error) {
	if s == "" {
		return "", nil
	}
	return chain.HexToAddress(s)
}

// Logger builds the root log entry.
func (c *Config) Logger() (*logrus.Entry, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log.level")
	}
	log.SetLevel(level)

	switch c.Log.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("log.format %q is not json or text", c.Log.Format)
	}
	return logrus.NewEntry(log).WithField("service", "labledger"), nil
}
