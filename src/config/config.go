package config

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/mosaicnetworks/rendezvous/src/address"
	"github.com/mosaicnetworks/rendezvous/src/common"
	rnet "github.com/mosaicnetworks/rendezvous/src/net"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Bus backends.
const (
	BusInmem = "inmem"
	BusRedis = "redis"
	BusWamp  = "wamp"
)

// Default configuration values.
const (
	DefaultLogLevel       = "debug"
	DefaultBindAddr       = ":8040"
	DefaultBus            = BusRedis
	DefaultPingInterval   = rnet.DefaultPingInterval
	DefaultPongTimeout    = rnet.DefaultPongTimeout
	DefaultWriteTimeout   = rnet.DefaultWriteTimeout
	DefaultReadLimit      = rnet.DefaultReadLimit
	DefaultQueueSize      = 64
	DefaultRedisHost      = "127.0.0.1"
	DefaultRedisPort      = 6379
	DefaultRedisDB        = 0
	DefaultWampRealm      = "rendezvous"
	DefaultWampSkipVerify = false
	DefaultWampTimeout    = 5 * time.Second
)

// DefaultAllowedOrigins accepts every origin.
var DefaultAllowedOrigins = []string{"*"}

// Config contains all the configuration properties of a relay process.
type Config struct {
	// DataDir is the directory where the relay looks for its configuration
	// file, signal.toml (or .yaml, .json).
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, if set, receives a copy of every log entry.
	LogFile string `mapstructure:"log-file"`

	// BindAddr is the address:port of the HTTP listener.
	BindAddr string `mapstructure:"listen"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`

	// Address is the peer address the relay uses as sender of the messages it
	// originates.
	Address string `mapstructure:"address"`

	// AllowedOrigins lists the origins accepted by the websocket endpoints.
	// "*" accepts all of them.
	AllowedOrigins []string `mapstructure:"allowed-origins"`

	PingInterval time.Duration `mapstructure:"websocket-ping-interval"`
	PongTimeout  time.Duration `mapstructure:"websocket-pong-timeout"`
	WriteTimeout time.Duration `mapstructure:"websocket-write-timeout"`
	ReadLimit    int64         `mapstructure:"websocket-read-limit"`

	// QueueSize is the number of bus messages a connection buffers before it
	// starts dropping them.
	QueueSize int `mapstructure:"queue-size"`

	// Bus selects the message bus: inmem, redis or wamp. Only redis and wamp
	// let several relay processes share the same peers.
	Bus string `mapstructure:"bus"`

	RedisHost string `mapstructure:"redis-host"`
	RedisPort int    `mapstructure:"redis-port"`
	RedisDB   int    `mapstructure:"redis-db"`

	// WampURL is the websocket URL of a remote WAMP router. When empty, the
	// relay runs its own router in-process, and exposes it on WampListen if
	// that is set.
	WampURL        string        `mapstructure:"wamp-url"`
	WampRealm      string        `mapstructure:"wamp-realm"`
	WampListen     string        `mapstructure:"wamp-listen"`
	WampCAFile     string        `mapstructure:"wamp-ca-file"`
	WampSkipVerify bool          `mapstructure:"wamp-skip-verify"`
	WampTimeout    time.Duration `mapstructure:"wamp-timeout"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		BindAddr:       DefaultBindAddr,
		Address:        address.RelayAddress,
		AllowedOrigins: DefaultAllowedOrigins,
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		ReadLimit:      DefaultReadLimit,
		QueueSize:      DefaultQueueSize,
		Bus:            DefaultBus,
		RedisHost:      DefaultRedisHost,
		RedisPort:      DefaultRedisPort,
		RedisDB:        DefaultRedisDB,
		WampRealm:      DefaultWampRealm,
		WampSkipVerify: DefaultWampSkipVerify,
		WampTimeout:    DefaultWampTimeout,
	}

	return config
}

// NewTestConfig returns a config object with default values, an in-memory
// bus, a random port, and a special logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.BindAddr = "127.0.0.1:0"
	config.Bus = BusInmem
	config.logger = common.NewTestLogger(t, level)
	return config
}

// Validate checks the values that cannot be fixed by a default.
func (c *Config) Validate() error {
	if _, err := address.Parse(c.Address); err != nil {
		return fmt.Errorf("address: %v", err)
	}

	switch c.Bus {
	case BusInmem, BusRedis, BusWamp:
	default:
		return fmt.Errorf("unknown bus %q, expected %s, %s or %s", c.Bus, BusInmem, BusRedis, BusWamp)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert and key must be set together")
	}

	return nil
}

// TLS reports whether the HTTP listener serves TLS.
func (c *Config) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// WebsocketOptions returns the options of the websocket transports.
func (c *Config) WebsocketOptions() rnet.WebsocketOptions {
	return rnet.WebsocketOptions{
		PingInterval: c.PingInterval,
		PongTimeout:  c.PongTimeout,
		WriteTimeout: c.WriteTimeout,
		ReadLimit:    c.ReadLimit,
	}
}

// RedisOptions returns the options of the Redis client.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr: net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort)),
		DB:   c.RedisDB,
	}
}

// Logger returns a formatted logrus Entry, with prefix set to "signal". When
// LogFile is set, entries are also appended to that file.
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			c.logger.Hooks.Add(lfshook.NewHook(
				c.LogFile,
				&logrus.JSONFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "signal")
}

// DefaultDataDir return the default directory name for the relay's
// configuration based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Signal")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Signal")
		} else {
			return filepath.Join(home, ".signal")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
