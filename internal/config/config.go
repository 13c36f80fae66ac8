package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"courtbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig            `yaml:"app"`
	Telegram     TelegramConfig       `yaml:"telegram"`
	Database     DatabaseConfig       `yaml:"database"`
	Redis        RedisConfig          `yaml:"redis"`
	Backup       BackupConfig         `yaml:"backup"`
	Monitoring   MonitoringConfig     `yaml:"monitoring"`
	Logging      LoggingConfig        `yaml:"logging"`
	API          APIConfig            `yaml:"api"`
	Booking      BookingConfig        `yaml:"booking"`
	Worker       WorkerConfig         `yaml:"worker"`
	Scheduler    SchedulerConfig      `yaml:"scheduler"`
	Exports      ExportConfig         `yaml:"exports"`
	Courts       []models.Court       `yaml:"courts"`
	PricingRules []models.PricingRule `yaml:"pricing_rules"`
}

type BookingConfig struct {
	HoldMinutes         int    `yaml:"hold_minutes"`
	CheckInEarlyMinutes int    `yaml:"checkin_early_minutes"`
	MaxAdvanceDays      int    `yaml:"max_advance_days"`
	OpenHour            int    `yaml:"open_hour"`
	CloseHour           int    `yaml:"close_hour"`
	SlotMinutes         int    `yaml:"slot_minutes"`
	ExpiringSoonMinutes int    `yaml:"expiring_soon_minutes"`
	LateCheckInMinutes  int    `yaml:"late_checkin_minutes"`
	PhoneRegion         string `yaml:"phone_region"`
}

func (c BookingConfig) HoldDuration() time.Duration {
	return time.Duration(c.HoldMinutes) * time.Minute
}

func (c BookingConfig) CheckInEarly() time.Duration {
	return time.Duration(c.CheckInEarlyMinutes) * time.Minute
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	StaffID     int64    `yaml:"staff_id"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	Timezone    string `yaml:"timezone"`
}

// Location resolves the operator's timezone used for pricing and schedules.
func (c AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	QueueKey string `yaml:"queue_key"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when telegram is enabled")
	}

	if _, err := c.App.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.App.Timezone, err)
	}

	if c.Booking.OpenHour < 0 || c.Booking.CloseHour > 24 || c.Booking.OpenHour >= c.Booking.CloseHour {
		return fmt.Errorf("invalid opening hours %d-%d", c.Booking.OpenHour, c.Booking.CloseHour)
	}

	if err := ValidateCourts(c.Courts); err != nil {
		return err
	}
	return ValidatePricingRules(c.PricingRules, c.Courts)
}

func ValidateCourts(courts []models.Court) error {
	courtIDs := make(map[int64]bool)
	for _, court := range courts {
		if court.ID == 0 {
			return fmt.Errorf("court '%s' has invalid ID 0", court.Name)
		}
		if courtIDs[court.ID] {
			return fmt.Errorf("duplicate court ID found: %d", court.ID)
		}
		if court.PricePerHour < 0 {
			return fmt.Errorf("court %d has negative price", court.ID)
		}
		courtIDs[court.ID] = true
	}
	return nil
}

func ValidatePricingRules(rules []models.PricingRule, courts []models.Court) error {
	known := make(map[int64]bool, len(courts))
	for _, court := range courts {
		known[court.ID] = true
	}

	ruleIDs := make(map[int64]bool)
	for _, rule := range rules {
		if rule.ID == 0 {
			return errors.New("pricing rule has invalid ID 0")
		}
		if ruleIDs[rule.ID] {
			return fmt.Errorf("duplicate pricing rule ID found: %d", rule.ID)
		}
		ruleIDs[rule.ID] = true

		if rule.CourtID != nil && !known[*rule.CourtID] {
			return fmt.Errorf("pricing rule %d references unknown court %d", rule.ID, *rule.CourtID)
		}
		if rule.DayOfWeek != nil && (*rule.DayOfWeek < time.Sunday || *rule.DayOfWeek > time.Saturday) {
			return fmt.Errorf("pricing rule %d has invalid day_of_week %d", rule.ID, *rule.DayOfWeek)
		}
		start, err := time.Parse("15:04", rule.StartTime)
		if err != nil {
			return fmt.Errorf("pricing rule %d has invalid start_time %q", rule.ID, rule.StartTime)
		}
		// "24:00" closes the day
		if rule.EndTime != "24:00" {
			end, err := time.Parse("15:04", rule.EndTime)
			if err != nil {
				return fmt.Errorf("pricing rule %d has invalid end_time %q", rule.ID, rule.EndTime)
			}
			if !start.Before(end) {
				return fmt.Errorf("pricing rule %d window is empty", rule.ID)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "courtbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Redis.QueueKey == "" {
		c.Redis.QueueKey = "courtbook:jobs:delayed"
	}

	// Booking defaults
	if c.Booking.HoldMinutes == 0 {
		c.Booking.HoldMinutes = int(models.DefaultHoldDuration / time.Minute)
	}
	if c.Booking.CheckInEarlyMinutes == 0 {
		c.Booking.CheckInEarlyMinutes = int(models.DefaultCheckInEarly / time.Minute)
	}
	if c.Booking.MaxAdvanceDays == 0 {
		c.Booking.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if c.Booking.OpenHour == 0 && c.Booking.CloseHour == 0 {
		c.Booking.OpenHour = 6
		c.Booking.CloseHour = 23
	}
	if c.Booking.SlotMinutes == 0 {
		c.Booking.SlotMinutes = int(models.DefaultSlotStep / time.Minute)
	}
	if c.Booking.ExpiringSoonMinutes == 0 {
		c.Booking.ExpiringSoonMinutes = 5
	}
	if c.Booking.LateCheckInMinutes == 0 {
		c.Booking.LateCheckInMinutes = 15
	}
	if c.Booking.PhoneRegion == "" {
		c.Booking.PhoneRegion = "VN"
	}

	// Worker defaults
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 50
	}
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelay == 0 {
		c.Worker.InitialDelay = 2 * time.Second
	}
	if c.Worker.MaxDelay == 0 {
		c.Worker.MaxDelay = time.Minute
	}
	if c.Scheduler.SweepInterval == 0 {
		c.Scheduler.SweepInterval = time.Minute
	}

	if c.Backup.Enabled {
		if c.Backup.Interval == 0 {
			c.Backup.Interval = 24 * time.Hour
		}
		if c.Backup.StoragePath == "" {
			c.Backup.StoragePath = "backups"
		}
		if c.Backup.RetentionDays == 0 {
			c.Backup.RetentionDays = 7
		}
	}
}
