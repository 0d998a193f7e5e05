package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port           int    `yaml:"port"`
		Host           string `yaml:"host"`
		WSReadLimitMB  int    `yaml:"ws_read_limit_mb"`
		ShutdownSecond int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Recognition struct {
		CredentialsFile     string   `yaml:"credentials_file"`
		Endpoint            string   `yaml:"endpoint"`
		LanguageCode        string   `yaml:"language_code"`
		AlternativeLangs    []string `yaml:"alternative_language_codes"`
		Encoding            string   `yaml:"encoding"`
		DefaultSampleRate   int      `yaml:"default_sample_rate"`
		Channels            int      `yaml:"channels"`
		MinSpeakers         int      `yaml:"min_speakers"`
		MaxSpeakers         int      `yaml:"max_speakers"`
		Model               string   `yaml:"model"`
		UseEnhanced         bool     `yaml:"use_enhanced"`
		PollIntervalMS      int      `yaml:"poll_interval_ms"`
		BatchModel          string   `yaml:"batch_model"`
		BatchTimeoutMinutes int      `yaml:"batch_timeout_minutes"`
	} `yaml:"recognition"`

	Session struct {
		RecordingsDir      string `yaml:"recordings_dir"`
		StopTimeoutSeconds int    `yaml:"stop_timeout_seconds"`
		QueueCapacity      int    `yaml:"queue_capacity"`
	} `yaml:"session"`

	Summary struct {
		APIKey      string  `yaml:"api_key"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"summary"`

	PostProcessing struct {
		OnStop  bool `yaml:"on_stop"`
		Workers int  `yaml:"workers"`
	} `yaml:"post_processing"`

	Storage struct {
		TempDir   string `yaml:"temp_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	GCS struct {
		Project               string `yaml:"project"`
		Bucket                string `yaml:"bucket"`
		Region                string `yaml:"region"`
		Prefix                string `yaml:"prefix"`
		DeleteAfterProcessing bool   `yaml:"delete_after_processing"`
	} `yaml:"gcs"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Load reads the YAML file at path, then applies .env and environment
// overrides and fills defaults. A missing file yields the defaults.
func Load(path string, dotenv bool) (*Config, error) {
	if dotenv {
		// .env is optional and never overrides the real environment.
		_ = godotenv.Load()
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	if v, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	str(&c.GCS.Project, "GOOGLE_CLOUD_PROJECT")
	str(&c.GCS.Region, "GOOGLE_CLOUD_REGION")
	str(&c.GCS.Bucket, "GCS_BUCKET_NAME", "GCS_BUCKET")
	str(&c.Summary.APIKey, "OPENAI_API_KEY")
	str(&c.Recognition.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	str(&c.Logging.Level, "LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	setStr := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}

	setStr(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8080)
	setInt(&c.Server.WSReadLimitMB, 10)
	setInt(&c.Server.ShutdownSecond, 10)

	setStr(&c.Recognition.LanguageCode, "en-US")
	if c.Recognition.AlternativeLangs == nil {
		c.Recognition.AlternativeLangs = []string{"ja-JP"}
	}
	setStr(&c.Recognition.Encoding, "LINEAR16")
	setInt(&c.Recognition.DefaultSampleRate, 48000)
	setInt(&c.Recognition.Channels, 1)
	setInt(&c.Recognition.MinSpeakers, 2)
	setInt(&c.Recognition.MaxSpeakers, 2)
	setStr(&c.Recognition.Model, "default")
	setInt(&c.Recognition.PollIntervalMS, 1000)
	setStr(&c.Recognition.BatchModel, "latest_long")
	setInt(&c.Recognition.BatchTimeoutMinutes, 30)

	setStr(&c.Session.RecordingsDir, "received_recordings")
	setInt(&c.Session.StopTimeoutSeconds, 3)
	setInt(&c.Session.QueueCapacity, 2048)

	setStr(&c.Summary.Model, "gpt-4o-mini")
	if c.Summary.Temperature == 0 {
		c.Summary.Temperature = 0.7
	}
	setInt(&c.Summary.MaxTokens, 500)

	setInt(&c.PostProcessing.Workers, 2)

	setStr(&c.Storage.TempDir, "temp")
	setStr(&c.Storage.OutputDir, "transcripts")
	setStr(&c.Storage.Database, "transcripts.db")

	setStr(&c.GCS.Region, "us-central1")
	setStr(&c.GCS.Prefix, "transcription-jobs")

	setInt(&c.Cleanup.IntervalMinutes, 60)
	setInt(&c.Cleanup.MaxAgeHours, 24)

	setStr(&c.GoogleDrive.CredentialsFile, "credentials.json")
	setStr(&c.GoogleDrive.TokenFile, "token.json")
	setStr(&c.GoogleDrive.FolderName, "Transcriptions")

	setInt(&c.Limits.MaxFileSizeMB, 500)
	setStr(&c.Logging.Level, "info")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.PostProcessing.Workers <= 0 {
		return fmt.Errorf("post_processing.workers must be positive, got %d", c.PostProcessing.Workers)
	}
	if c.Recognition.MinSpeakers > c.Recognition.MaxSpeakers {
		return fmt.Errorf("recognition.min_speakers %d exceeds max_speakers %d",
			c.Recognition.MinSpeakers, c.Recognition.MaxSpeakers)
	}
	if c.Session.QueueCapacity <= 0 {
		return fmt.Errorf("session.queue_capacity must be positive, got %d", c.Session.QueueCapacity)
	}
	return nil
}

// StopTimeout is how long recording_stopped waits for the recognition worker.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Session.StopTimeoutSeconds) * time.Second
}

// PollInterval is the bridge's queue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Recognition.PollIntervalMS) * time.Millisecond
}

// BatchTimeout bounds one batch recognition call.
func (c *Config) BatchTimeout() time.Duration {
	return time.Duration(c.Recognition.BatchTimeoutMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSecond) * time.Second
}
