package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"mail-dispatch-go/internal/filter"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	IMAP      IMAPConfig      `mapstructure:"imap"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Filters   filter.RuleSet  `mapstructure:"filters"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// SMTPConfig holds the outbound mail transport configuration
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`
}

// Addr returns the host:port address of the SMTP server
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IMAPConfig holds the inbound mailbox configuration
type IMAPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseSSL   bool   `mapstructure:"use_ssl"`
	Folder   string `mapstructure:"folder"`
	Selector string `mapstructure:"selector"`
	MarkSeen bool   `mapstructure:"mark_seen"`
	Delete   bool   `mapstructure:"delete"`
}

// Addr returns the host:port address of the IMAP server
func (c *IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig holds the outbound queue delivery policy
type QueueConfig struct {
	MaxRetries   int  `mapstructure:"max_retries"`
	RetryWait    int  `mapstructure:"retry_wait"` // seconds between retries, constant backoff
	BucketSize   int  `mapstructure:"bucket_size"`
	History      bool `mapstructure:"history"`
	SendAttempts int  `mapstructure:"send_attempts"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	SendIntervalMinutes int `mapstructure:"send_interval_minutes"`
	SyncIntervalMinutes int `mapstructure:"sync_interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("smtp.port", 25)
	viper.SetDefault("smtp.use_tls", false)

	viper.SetDefault("imap.port", 993)
	viper.SetDefault("imap.use_ssl", true)
	viper.SetDefault("imap.folder", "INBOX")
	viper.SetDefault("imap.selector", "UNSEEN")
	viper.SetDefault("imap.mark_seen", true)
	viper.SetDefault("imap.delete", false)

	viper.SetDefault("queue.max_retries", 10)
	viper.SetDefault("queue.retry_wait", 5400) // retry every 1.5h
	viper.SetDefault("queue.bucket_size", 10)
	viper.SetDefault("queue.history", true)
	viper.SetDefault("queue.send_attempts", 2)

	viper.SetDefault("scheduler.send_interval_minutes", 1)
	viper.SetDefault("scheduler.sync_interval_minutes", 5)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// SMTP transport
	viper.BindEnv("smtp.host", "SMTP_HOST")
	viper.BindEnv("smtp.port", "SMTP_PORT")
	viper.BindEnv("smtp.username", "SMTP_USERNAME")
	viper.BindEnv("smtp.password", "SMTP_PASSWORD")
	viper.BindEnv("smtp.use_tls", "SMTP_USE_TLS")

	// IMAP mailbox
	viper.BindEnv("imap.host", "IMAP_HOST")
	viper.BindEnv("imap.port", "IMAP_PORT")
	viper.BindEnv("imap.username", "IMAP_USERNAME")
	viper.BindEnv("imap.password", "IMAP_PASSWORD")
	viper.BindEnv("imap.use_ssl", "IMAP_USE_SSL")
	viper.BindEnv("imap.folder", "IMAP_FOLDER")
	viper.BindEnv("imap.selector", "IMAP_SELECTOR")
	viper.BindEnv("imap.mark_seen", "IMAP_MARK_SEEN")
	viper.BindEnv("imap.delete", "IMAP_DELETE")

	// Queue policy
	viper.BindEnv("queue.max_retries", "QUEUE_MAX_RETRIES")
	viper.BindEnv("queue.retry_wait", "QUEUE_RETRY_WAIT")
	viper.BindEnv("queue.bucket_size", "QUEUE_BUCKET_SIZE")
	viper.BindEnv("queue.history", "QUEUE_HISTORY")
	viper.BindEnv("queue.send_attempts", "QUEUE_SEND_ATTEMPTS")

	// Scheduler
	viper.BindEnv("scheduler.send_interval_minutes", "SCHEDULER_SEND_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.sync_interval_minutes", "SCHEDULER_SYNC_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// RetryWaitDuration returns the constant backoff window as a duration
func (c *QueueConfig) RetryWaitDuration() time.Duration {
	return time.Duration(c.RetryWait) * time.Second
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required")
	}

	if c.Queue.MaxRetries <= 0 {
		return fmt.Errorf("queue max_retries must be greater than 0")
	}

	if c.Queue.BucketSize <= 0 {
		return fmt.Errorf("queue bucket_size must be greater than 0")
	}

	if c.Queue.SendAttempts <= 0 {
		return fmt.Errorf("queue send_attempts must be greater than 0")
	}

	if c.Scheduler.SendIntervalMinutes <= 0 || c.Scheduler.SyncIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler intervals must be greater than 0")
	}

	if err := c.Filters.Validate(); err != nil {
		return fmt.Errorf("invalid filter rules: %w", err)
	}

	return nil
}
