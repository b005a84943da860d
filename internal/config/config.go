package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type App struct {
	Name         string `mapstructure:"name"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	MaxHeaderMB  int    `mapstructure:"max_header_mb"`
}

type Database struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

type Redis struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	ReceiptTTL time.Duration `mapstructure:"receipt_ttl"`
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type Queue struct {
	SendInterval     time.Duration `mapstructure:"send_interval"`
	BatchSize        uint          `mapstructure:"batch_size"`
	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	AutoStart        bool          `mapstructure:"auto_start"`
}

const (
	TransportSMTP     = "smtp"
	TransportPostmark = "postmark"
	TransportLog      = "log"
)

type Transport struct {
	Driver string `mapstructure:"driver"`
	LogDir string `mapstructure:"log_dir"`
}

type SMTP struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	From               string        `mapstructure:"from"`
	HeloName           string        `mapstructure:"helo_name"`
	TLSMode            string        `mapstructure:"tls_mode"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	DialTimeout        time.Duration `mapstructure:"dial_timeout"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
}

type DKIM struct {
	Domain   string `mapstructure:"domain"`
	Selector string `mapstructure:"selector"`
	KeyPath  string `mapstructure:"key_path"`
}

type Postmark struct {
	ServerToken  string        `mapstructure:"server_token"`
	AccountToken string        `mapstructure:"account_token"`
	From         string        `mapstructure:"from"`
	ReplyTo      string        `mapstructure:"reply_to"`
	Stream       string        `mapstructure:"stream"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type Events struct {
	Enabled     bool   `mapstructure:"enabled"`
	SQSQueueURL string `mapstructure:"sqs_queue_url"`
	AWSRegion   string `mapstructure:"aws_region"`
	AWSEndpoint string `mapstructure:"aws_endpoint"`
}

type Telemetry struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Queue     Queue     `mapstructure:"queue"`
	Transport Transport `mapstructure:"transport"`
	SMTP      SMTP      `mapstructure:"smtp"`
	DKIM      DKIM      `mapstructure:"dkim"`
	Postmark  Postmark  `mapstructure:"postmark"`
	Events    Events    `mapstructure:"events"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "gopulse-mailer")
	v.SetDefault("app.port", 8080)
	v.SetDefault("redis.receipt_ttl", 24*time.Hour)
	v.SetDefault("queue.send_interval", 2*time.Minute)
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.max_retry_attempts", 3)
	v.SetDefault("queue.retry_delay", 60*time.Second)
	v.SetDefault("queue.lock_ttl", 5*time.Minute)
	v.SetDefault("queue.auto_start", true)
	v.SetDefault("transport.driver", TransportSMTP)
	v.SetDefault("transport.log_dir", "tmp/mail")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.tls_mode", "starttls")
	v.SetDefault("postmark.stream", "outbound")
	v.SetDefault("telemetry.sample_rate", 1.0)
}

// ApplyEnv overrides secrets and endpoints from the environment.
func (c *Config) ApplyEnv() {
	setString(&c.Database.DSN, "DATABASE_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Redis.DB, "REDIS_DB")
	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.Postmark.ServerToken, "POSTMARK_SERVER_TOKEN")
	setString(&c.Postmark.AccountToken, "POSTMARK_ACCOUNT_TOKEN")
	setString(&c.Events.SQSQueueURL, "SQS_QUEUE_URL")
	setString(&c.Events.AWSRegion, "AWS_REGION")
	setString(&c.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&c.Transport.Driver, "MAIL_TRANSPORT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Port <= 0 {
		errs = append(errs, errors.New("app.port must be positive"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Queue.MaxRetryAttempts <= 0 {
		errs = append(errs, errors.New("queue.max_retry_attempts must be positive"))
	}

	switch c.Transport.Driver {
	case TransportSMTP:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp.host is required"))
		}
		if c.SMTP.From == "" {
			errs = append(errs, errors.New("smtp.from is required"))
		}
	case TransportPostmark:
		if c.Postmark.ServerToken == "" {
			errs = append(errs, errors.New("postmark.server_token is required"))
		}
		if c.Postmark.From == "" {
			errs = append(errs, errors.New("postmark.from is required"))
		}
	case TransportLog:
	default:
		errs = append(errs, fmt.Errorf("unknown transport.driver %q", c.Transport.Driver))
	}

	if c.Events.Enabled && c.Events.SQSQueueURL == "" {
		errs = append(errs, errors.New("events.sqs_queue_url is required when events are enabled"))
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, errors.New("telemetry.otlp_endpoint is required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
