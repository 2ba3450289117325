package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"surgerywatch/internal/notify"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/telemetry"
	"surgerywatch/internal/watch"
	"surgerywatch/lib/configutil"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultConfigName = "surgerywatch.json5"

	envBaseUrl      = "SURGERYWATCH_BASE_URL"
	envSmtpPassword = "SURGERYWATCH_SMTP_PASSWORD"
)

type RetryConfig struct {
	MaxRetries     int     `json:"max_retries"`
	InitialSeconds float64 `json:"initial_seconds"`
	MaxSeconds     float64 `json:"max_seconds"`
}

type LogConfig struct {
	// File enables a rotating log file next to stderr.
	File       string `json:"file"`
	MaxSizeMb  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

type Config struct {
	BaseUrl           string  `json:"base_url"`
	LegendPath        string  `json:"legend_path"`
	LegendTableId     string  `json:"legend_table_id"`
	StatusPath        string  `json:"status_path"`
	FacilitiesPath    string  `json:"facilities_path"`
	FacilityParam     string  `json:"facility_param"`
	RequestTimeout    int     `json:"request_timeout"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	Timezone          string  `json:"timezone"`

	PollInterval int         `json:"poll_interval"`
	ExitStatuses []string    `json:"exit_statuses"`
	Retry        RetryConfig `json:"retry"`

	Email *notify.EmailConfig  `json:"email"`
	Log   LogConfig            `json:"log"`
	Otlp  telemetry.OtlpConfig `json:"otlp"`
}

// LoadConfig reads the json5 config and then applies the environment (and .env file) on
// top of it. An explicit path must exist, the default name is searched for upwards from
// the working directory and may be missing.
func LoadConfig(path, envFile string) (Config, error) {
	err := godotenv.Load(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var cfg Config
	if path != "" {
		cfg, err = configutil.ReadConfig[Config](path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		cfg, _, err = configutil.ReadRecursively[Config](defaultConfigName)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if baseUrl := os.Getenv(envBaseUrl); baseUrl != "" {
		c.BaseUrl = baseUrl
	}
	if password := os.Getenv(envSmtpPassword); password != "" && c.Email != nil {
		c.Email.Password = password
	}
}

func (c Config) ClientOptions(location *time.Location) tracker.Options {
	return tracker.Options{
		BaseUrl:           c.BaseUrl,
		LegendPath:        c.LegendPath,
		LegendTableId:     c.LegendTableId,
		StatusPath:        c.StatusPath,
		FacilitiesPath:    c.FacilitiesPath,
		FacilityParam:     c.FacilityParam,
		Timeout:           time.Duration(c.RequestTimeout) * time.Second,
		RequestsPerSecond: c.RequestsPerSecond,
		CloudflareBypass:  c.CloudflareBypass,
		Location:          location,
	}
}

func (c Config) WatchOptions() watch.Options {
	return watch.Options{
		PollInterval: time.Duration(c.PollInterval) * time.Second,
		ExitStatuses: c.ExitStatuses,
		Retry: watch.RetryPolicy{
			MaxRetries: c.Retry.MaxRetries,
			Initial:    seconds(c.Retry.InitialSeconds),
			Max:        seconds(c.Retry.MaxSeconds),
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
