package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BearBump/SimKeeper/internal/expiry"
	"github.com/robfig/cron/v3"
	"go.yaml.in/yaml/v4"
)

const (
	DefaultKeepAliveTopic = "keepalive.dispatched"
	DefaultTickSchedule   = "@every 1h"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	SimKeeper SimKeeperConfig `yaml:"simkeeper"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                         string `yaml:"host"`
	Port                         int    `yaml:"port"`
	KeepAliveDispatchedTopicName string `yaml:"keepalive_dispatched_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TwilioConfig: with any of AccountSID/AuthToken/FromNumber empty the scheduler refuses to auto-send.
type TwilioConfig struct {
	BaseURL           string  `yaml:"base_url"`
	AccountSID        string  `yaml:"account_sid"`
	AuthToken         string  `yaml:"auth_token"`
	FromNumber        string  `yaml:"from_number"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	// UseFake отправляет всё в in-process заглушку (демо без Twilio).
	UseFake bool `yaml:"use_fake"`
}

type SimKeeperConfig struct {
	HTTPAddr             string `yaml:"http_addr"`
	KafkaConsumerGroup   string `yaml:"kafka_consumer_group"`
	CurrentSimTTLSeconds int    `yaml:"current_sim_ttl_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	AutoSendEnabled bool   `yaml:"auto_send_enabled"`
	KeepAliveTarget string `yaml:"keep_alive_target"`
	// TickSchedule is a cron expression ("0 * * * *") or a descriptor ("@every 30m").
	TickSchedule string `yaml:"tick_schedule"`
	// SettleDelayMillis: nil means the default 2s, 0 means state goes idle right after a sweep.
	SettleDelayMillis        *int `yaml:"settle_delay_ms"`
	WorkerRateLimitPerMinute int  `yaml:"worker_rate_limit_per_minute"`

	Policy expiry.Policy `yaml:"policy"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.KeepAliveDispatchedTopicName == "" {
		c.Kafka.KeepAliveDispatchedTopicName = DefaultKeepAliveTopic
	}
	if c.Twilio.TimeoutSeconds <= 0 {
		c.Twilio.TimeoutSeconds = 10
	}
	if c.Twilio.MessagesPerSecond <= 0 {
		c.Twilio.MessagesPerSecond = 1
	}
	if c.SimKeeper.HTTPAddr == "" {
		c.SimKeeper.HTTPAddr = ":8080"
	}
	if c.SimKeeper.WorkerHTTPAddr == "" {
		c.SimKeeper.WorkerHTTPAddr = ":8082"
	}
	if c.SimKeeper.KafkaConsumerGroup == "" {
		c.SimKeeper.KafkaConsumerGroup = "simkeeper-api"
	}
	if c.SimKeeper.TickSchedule == "" {
		c.SimKeeper.TickSchedule = DefaultTickSchedule
	}
	if c.SimKeeper.WorkerRateLimitPerMinute <= 0 {
		c.SimKeeper.WorkerRateLimitPerMinute = 30
	}
	c.SimKeeper.Policy = c.SimKeeper.Policy.WithDefaults()
}

// Validate checks the settings the scheduler relies on. The tick period must
// be shorter than the auto-send window.
func (c *Config) Validate() error {
	if err := c.SimKeeper.Policy.Validate(); err != nil {
		return fmt.Errorf("simkeeper.policy: %w", err)
	}
	if d := c.SimKeeper.SettleDelayMillis; d != nil && *d < 0 {
		return fmt.Errorf("simkeeper.settle_delay_ms must not be negative")
	}
	sched, err := c.TickSchedule()
	if err != nil {
		return err
	}
	p, lead := SchedulePeriod(sched), c.SimKeeper.Policy.LeadWindow()
	if p == 0 {
		return fmt.Errorf("simkeeper.tick_schedule %q never fires", c.SimKeeper.TickSchedule)
	}
	if p >= lead {
		return fmt.Errorf("simkeeper.tick_schedule: period %s must be shorter than the auto-send window %s", p, lead)
	}
	return nil
}

func (c *Config) TickSchedule() (cron.Schedule, error) {
	sched, err := cron.ParseStandard(c.SimKeeper.TickSchedule)
	if err != nil {
		return nil, fmt.Errorf("simkeeper.tick_schedule %q: %w", c.SimKeeper.TickSchedule, err)
	}
	return sched, nil
}

// SchedulePeriod returns the largest gap between consecutive activations over
// one week, or zero if the schedule never fires.
func SchedulePeriod(s cron.Schedule) time.Duration {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	prev := s.Next(start)
	if prev.IsZero() {
		return 0
	}
	var longest time.Duration
	for {
		next := s.Next(prev)
		if next.IsZero() {
			return longest
		}
		if gap := next.Sub(prev); gap > longest {
			longest = gap
		}
		if !next.Before(end) {
			return longest
		}
		prev = next
	}
}

func (c *Config) SettleDelay() time.Duration {
	if c.SimKeeper.SettleDelayMillis == nil {
		return 2 * time.Second
	}
	return time.Duration(*c.SimKeeper.SettleDelayMillis) * time.Millisecond
}

func (c *Config) CurrentSimTTL() time.Duration {
	return time.Duration(c.SimKeeper.CurrentSimTTLSeconds) * time.Second
}

func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}
