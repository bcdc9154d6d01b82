package pool

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/quarrier-db/quarrier/pgerr"
)

const (
	defaultMinSize        = 1
	defaultMaxSize        = 10
	defaultConnectTimeout = 5 * time.Second
	defaultAcquireTimeout = 30 * time.Second
	envPrefix             = "QUARRIER_"
)

// Config holds the connect target and pool sizing. Every option is validated
// at Build time; an invalid configuration never fails lazily at first use.
type Config struct {
	Host     string `koanf:"host"     validate:"required"`
	Port     int    `koanf:"port"     validate:"gte=1,lte=65535"`
	User     string `koanf:"user"     validate:"required"`
	Password string `koanf:"password"`
	Database string `koanf:"database" validate:"required"`

	MinSize int `koanf:"min_size" validate:"gte=1"`
	MaxSize int `koanf:"max_size" validate:"gtefield=MinSize"`

	ConnectTimeout time.Duration `koanf:"connect_timeout" validate:"gt=0"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout" validate:"gt=0"`

	// Label identifies the pool in logs and metrics.
	Label string `koanf:"label"`
}

// DefaultConfig returns the baseline configuration; the connect target still
// has to be filled in.
func DefaultConfig() *Config {
	return &Config{
		Port:           5432,
		MinSize:        defaultMinSize,
		MaxSize:        defaultMaxSize,
		ConnectTimeout: defaultConnectTimeout,
		AcquireTimeout: defaultAcquireTimeout,
		Label:          "default",
	}
}

// LoadConfig merges defaults with QUARRIER_* environment variables
// (QUARRIER_HOST, QUARRIER_MAX_SIZE, ...) and validates the result.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, pgerr.Wrap(pgerr.KindPoolConfiguration, err, "cannot load defaults")
	}
	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindPoolConfiguration, err, "cannot load environment")
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, pgerr.Wrap(pgerr.KindPoolConfiguration, err, "cannot unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the bounds of every option.
func (c *Config) Validate() error {
	if c == nil {
		return pgerr.New(pgerr.KindPoolConfiguration, "config is required")
	}
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return pgerr.Wrap(pgerr.KindPoolConfiguration, err,
				"option %s fails constraint %q", f.Field(), f.Tag())
		}
		return pgerr.Wrap(pgerr.KindPoolConfiguration, err, "invalid configuration")
	}
	return nil
}

// dsn synthesizes the connect string handed to the transport.
func (c *Config) dsn() string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("dbname=%s", c.Database),
	}
	if c.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", c.Password))
	}
	parts = append(parts, fmt.Sprintf("connect_timeout=%d", int(c.ConnectTimeout.Seconds())))
	return strings.Join(parts, " ")
}
