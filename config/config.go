// Package config loads consumer settings from flags, environment variables,
// an optional YAML file and a .env file.
//
// Precedence, highest first: flags, environment, YAML, defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/baldanca/widget-consumer/transformer"
)

type Config struct {
	RequestBucket   string `yaml:"request_bucket"`
	RequestPrefix   string `yaml:"request_prefix"`
	RequestQueueURL string `yaml:"request_queue_url"`

	WidgetBucket  string `yaml:"widget_bucket"`
	WidgetPrefix  string `yaml:"widget_prefix"`
	WidgetTable   string `yaml:"widget_table"`
	PostgresURL   string `yaml:"postgres_url"`
	PostgresTable string `yaml:"postgres_table"`

	PollInterval    time.Duration               `yaml:"poll_interval"`
	CollisionPolicy transformer.CollisionPolicy `yaml:"collision_policy"`

	ClaimRedisURL string        `yaml:"claim_redis_url"`
	ClaimTTL      time.Duration `yaml:"claim_ttl"`

	StoreRetries int `yaml:"store_retries"`
	SinkRetries  int `yaml:"sink_retries"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	Env         string `yaml:"env"`
}

// MaxVisibilityTimeout is the largest visibility timeout SQS accepts.
const MaxVisibilityTimeout = 12 * time.Hour

func Default() Config {
	return Config{
		PostgresTable:   "widgets",
		PollInterval:    100 * time.Millisecond,
		CollisionPolicy: transformer.PolicyReject,
		ClaimTTL:        30 * time.Second,
		StoreRetries:    3,
		SinkRetries:     3,
		LogLevel:        "info",
		Env:             "production",
	}
}

// option binds one setting to its flag names and environment variable.
type option struct {
	flags []string
	env   string
	usage string
	set   func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func dur(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

var options = []option{
	{[]string{"rb", "request-bucket"}, "REQUEST_BUCKET", "S3 bucket holding widget requests",
		str(func(c *Config) *string { return &c.RequestBucket })},
	{[]string{"rp", "request-prefix"}, "REQUEST_PREFIX", "key prefix inside the request bucket",
		str(func(c *Config) *string { return &c.RequestPrefix })},
	{[]string{"rq", "request-queue"}, "REQUEST_QUEUE_URL", "SQS queue URL delivering widget requests",
		str(func(c *Config) *string { return &c.RequestQueueURL })},
	{[]string{"wb", "widget-bucket"}, "WIDGET_BUCKET", "S3 bucket mirroring widgets",
		str(func(c *Config) *string { return &c.WidgetBucket })},
	{[]string{"wp", "widget-prefix"}, "WIDGET_PREFIX", "key prefix inside the widget bucket",
		str(func(c *Config) *string { return &c.WidgetPrefix })},
	{[]string{"dwt", "dynamodb-widget-table"}, "WIDGET_TABLE", "DynamoDB table storing widgets",
		str(func(c *Config) *string { return &c.WidgetTable })},
	{[]string{"pg", "postgres-url"}, "WIDGET_POSTGRES_URL", "Postgres connection string for the widget table",
		str(func(c *Config) *string { return &c.PostgresURL })},
	{[]string{"pgt", "postgres-table"}, "WIDGET_POSTGRES_TABLE", "Postgres widget table name",
		str(func(c *Config) *string { return &c.PostgresTable })},
	{[]string{"poll-interval"}, "POLL_INTERVAL", "sleep between empty polls",
		dur(func(c *Config) *time.Duration { return &c.PollInterval })},
	{[]string{"collision-policy"}, "COLLISION_POLICY", "attribute collision policy: reject, prefix or last-write-wins",
		func(c *Config, v string) error {
			p, err := transformer.ParseCollisionPolicy(v)
			if err != nil {
				return err
			}
			c.CollisionPolicy = p
			return nil
		}},
	{[]string{"claim-redis-url"}, "CLAIM_REDIS_URL", "Redis URL used to claim request keys",
		str(func(c *Config) *string { return &c.ClaimRedisURL })},
	{[]string{"claim-ttl"}, "CLAIM_TTL", "claim lease duration",
		dur(func(c *Config) *time.Duration { return &c.ClaimTTL })},
	{[]string{"store-retries"}, "STORE_RETRY_ATTEMPTS", "attempts per request store cycle",
		integer(func(c *Config) *int { return &c.StoreRetries })},
	{[]string{"sink-retries"}, "SINK_RETRY_ATTEMPTS", "attempts per sink write",
		integer(func(c *Config) *int { return &c.SinkRetries })},
	{[]string{"metrics-addr"}, "METRICS_ADDR", "listen address for /healthz and /metrics",
		str(func(c *Config) *string { return &c.MetricsAddr })},
	{[]string{"log-level"}, "LOG_LEVEL", "log level",
		str(func(c *Config) *string { return &c.LogLevel })},
	{[]string{"env"}, "APP_ENV", "runtime environment",
		str(func(c *Config) *string { return &c.Env })},
}

// Load reads a .env file if present, then resolves every setting.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return load(args, os.LookupEnv, os.Stderr)
}

type flagValue struct {
	opt   *option
	name  string
	value string
}

func load(args []string, lookup func(string) (string, bool), usageOut io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("widget-consumer", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	configPath := fs.String("config", "", "YAML config file (env CONFIG_FILE)")

	// Flag values are applied after env and YAML, so only record them here.
	var set []flagValue
	for i := range options {
		opt := &options[i]
		for _, name := range opt.flags {
			fs.Func(name, fmt.Sprintf("%s (env %s)", opt.usage, opt.env), func(v string) error {
				set = append(set, flagValue{opt: opt, name: name, value: v})
				return nil
			})
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path, _ = lookup("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	for i := range options {
		opt := &options[i]
		v, ok := lookup(opt.env)
		if !ok || v == "" {
			continue
		}
		if err := opt.set(&cfg, v); err != nil {
			return nil, fmt.Errorf("env %s=%q: %w", opt.env, v, err)
		}
	}

	for _, f := range set {
		if err := f.opt.set(&cfg, f.value); err != nil {
			return nil, fmt.Errorf("flag -%s=%q: %w", f.name, f.value, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadYAML(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.RequestBucket == "" && c.RequestQueueURL == "":
		return errors.New("one of request bucket or request queue is required")
	case c.RequestBucket != "" && c.RequestQueueURL != "":
		return errors.New("request bucket and request queue are mutually exclusive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0, got %s", c.PollInterval)
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("claim ttl must be > 0, got %s", c.ClaimTTL)
	}
	// With queue input the claim ttl becomes the SQS visibility timeout.
	if c.RequestQueueURL != "" && (c.ClaimTTL < time.Second || c.ClaimTTL > MaxVisibilityTimeout) {
		return fmt.Errorf("claim ttl must be between 1s and %s with a request queue, got %s", MaxVisibilityTimeout, c.ClaimTTL)
	}
	if _, err := transformer.ParseCollisionPolicy(string(c.CollisionPolicy)); err != nil {
		return err
	}
	if c.StoreRetries < 1 {
		return fmt.Errorf("store retries must be >= 1, got %d", c.StoreRetries)
	}
	if c.SinkRetries < 1 {
		return fmt.Errorf("sink retries must be >= 1, got %d", c.SinkRetries)
	}
	if c.PostgresURL != "" && c.PostgresTable == "" {
		return errors.New("postgres table is required with a postgres url")
	}
	return nil
}

// VisibilityTimeoutSeconds is the SQS visibility timeout matching ClaimTTL,
// rounded up to whole seconds.
func (c *Config) VisibilityTimeoutSeconds() int32 {
	return int32((c.ClaimTTL + time.Second - 1) / time.Second)
}
