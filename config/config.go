package config

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/nordlib/patron-engine/internal/httpx"
	"github.com/nordlib/patron-engine/pkg/logger"
	"github.com/nordlib/patron-engine/pkg/postgres"
	"go.uber.org/zap/zapcore"
)

type HTTPServer struct {
	Host         string        `yaml:"host" envconfig:"PATRON_HTTP_HOST"`
	Port         string        `yaml:"port" envconfig:"PATRON_HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"readTimeout" envconfig:"HTTP_READ" default:"5s"`
	WriteTimeout time.Duration `yaml:"writeTimeout" envconfig:"HTTP_WRITE" default:"30s"`
}

type Engine struct {
	// ProvidersFile lists the known library providers as a JSON array.
	ProvidersFile string `envconfig:"PROVIDERS_FILE" default:"providers.json"`
	// Workers bounds the shared background executor.
	Workers int64 `envconfig:"ENGINE_WORKERS" default:"8"`
}

type Config struct {
	Server   HTTPServer `yaml:"server"`
	Database postgres.Config
	Client   httpx.Config
	Engine   Engine
	Log      logger.Log `yaml:"log"`
}

var (
	once sync.Once
	cfg  Config
)

// NewConfig reads config from environment.
func NewConfig(ops ...Option) Config {
	once.Do(func() {
		var config Config
		for _, op := range ops {
			op(&config)
		}
		err := envconfig.Process("", &config)
		if err != nil {
			log.Fatal("NewConfig ", err)
		}
		cfg = config
		printConfig(cfg)
	})

	return cfg
}

type Option func(*Config)

func WithProvidersFile(path string) Option {
	return func(c *Config) {
		c.Engine.ProvidersFile = path
	}
}

func WithLogLevel(level zapcore.Level) Option {
	return func(c *Config) {
		c.Log.Level = level
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Server.WriteTimeout = d
	}
}

func printConfig(cfg Config) {
	jscfg, _ := json.MarshalIndent(cfg, "", "	") //nolint:errcheck
	fmt.Println(string(jscfg))
}
