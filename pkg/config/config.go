package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		BcryptCost      int           `yaml:"bcrypt_cost"`

		Demo struct {
			UserID       string `yaml:"user_id"`
			Email        string `yaml:"email"`
			Name         string `yaml:"name"`
			Password     string `yaml:"password"`
			PasswordHash string `yaml:"password_hash"`
		} `yaml:"demo"`
	} `yaml:"auth"`

	Media struct {
		ProbeGrace   time.Duration `yaml:"probe_grace"`
		TickInterval time.Duration `yaml:"tick_interval"`

		// Simulated platform devices.
		Camera     DeviceConfig `yaml:"camera"`
		Microphone DeviceConfig `yaml:"microphone"`
	} `yaml:"media"`

	Sessions struct {
		IdleTTL         time.Duration `yaml:"idle_ttl"`
		JanitorInterval time.Duration `yaml:"janitor_interval"`
		MaxPerOwner     int           `yaml:"max_per_owner"`
	} `yaml:"sessions"`

	Upload struct {
		// Backend is "simulated" (progress only), "file" (documents kept in
		// Dir) or "s3".
		Backend      string        `yaml:"backend"`
		Dir          string        `yaml:"dir"`
		S3           S3Config      `yaml:"s3"`
		MaxSizeBytes int64         `yaml:"max_size_bytes"`
		StepPercent  int           `yaml:"step_percent"`
		StepInterval time.Duration `yaml:"step_interval"`
		Timeout      time.Duration `yaml:"timeout"`
		Retention    time.Duration `yaml:"retention"`
	} `yaml:"upload"`

	WebSocket struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SendBuffer   int           `yaml:"send_buffer"`
	} `yaml:"websocket"`

	Reliability struct {
		RetryAttempts    int           `yaml:"retry_attempts"`
		RetryDelay       time.Duration `yaml:"retry_delay"`
		FailureThreshold int           `yaml:"failure_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int `yaml:"connections_per_minute"`
			MaxConcurrent        int `yaml:"max_concurrent_connections"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// S3Config points the s3 upload backend at a bucket. Credentials fall back to
// the default AWS chain when empty.
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// DeviceConfig describes one simulated capture device.
type DeviceConfig struct {
	Present bool `yaml:"present"`
	// Permission is "granted" or "denied".
	Permission string `yaml:"permission"`
	// Exclusive devices refuse a second concurrent acquisition.
	Exclusive bool `yaml:"exclusive"`
}

func (d DeviceConfig) validate(name string) error {
	if d.Permission != "granted" && d.Permission != "denied" {
		return fmt.Errorf("media.%s.permission must be granted or denied", name)
	}
	return nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}
	if c.Auth.RefreshTokenTTL < c.Auth.AccessTokenTTL {
		return fmt.Errorf("auth.refresh_token_ttl must be >= access_token_ttl")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}
	if c.Auth.Demo.Email == "" || c.Auth.Demo.UserID == "" {
		return fmt.Errorf("auth.demo.email and auth.demo.user_id must not be empty")
	}
	if c.Auth.Demo.Password == "" && c.Auth.Demo.PasswordHash == "" {
		return fmt.Errorf("auth.demo.password or auth.demo.password_hash must be set")
	}

	// Media
	if c.Media.ProbeGrace <= 0 {
		return fmt.Errorf("media.probe_grace must be > 0")
	}
	if c.Media.TickInterval < 0 {
		return fmt.Errorf("media.tick_interval must be >= 0")
	}
	if err := c.Media.Camera.validate("camera"); err != nil {
		return err
	}
	if err := c.Media.Microphone.validate("microphone"); err != nil {
		return err
	}

	// Sessions
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("sessions.idle_ttl must be >= 0")
	}
	if c.Sessions.IdleTTL > 0 && c.Sessions.JanitorInterval <= 0 {
		return fmt.Errorf("sessions.janitor_interval must be > 0 when idle_ttl is set")
	}
	if c.Sessions.MaxPerOwner < 0 {
		return fmt.Errorf("sessions.max_per_owner must be >= 0")
	}

	// Upload
	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.max_size_bytes must be > 0")
	}
	if c.Upload.StepPercent <= 0 || c.Upload.StepPercent > 100 {
		return fmt.Errorf("upload.step_percent must be in 1..100")
	}
	if c.Upload.StepInterval <= 0 {
		return fmt.Errorf("upload.step_interval must be > 0")
	}
	switch c.Upload.Backend {
	case "simulated":
	case "file":
		if c.Upload.Dir == "" {
			return fmt.Errorf("upload.dir is required for the file backend")
		}
	case "s3":
		if c.Upload.S3.Bucket == "" {
			return fmt.Errorf("upload.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("upload.backend must be simulated, file or s3, got %q", c.Upload.Backend)
	}

	// WebSocket
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be > ping_interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket.send_buffer must be > 0")
	}

	// Reliability
	if c.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts must be >= 0")
	}
	if c.Reliability.FailureThreshold <= 0 {
		return fmt.Errorf("reliability.failure_threshold must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst loads the first candidate path that exists, falling back to
// defaults with env overrides when none does.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	cfg, err := Load("")
	return cfg, "", err
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "coachroom:"

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Auth.BcryptCost = 10
	cfg.Auth.Demo.UserID = "1"
	cfg.Auth.Demo.Email = "demo@example.com"
	cfg.Auth.Demo.Name = "Demo User"
	cfg.Auth.Demo.Password = "demo"

	cfg.Media.ProbeGrace = 5 * time.Second
	cfg.Media.TickInterval = time.Second
	cfg.Media.Camera = DeviceConfig{Present: true, Permission: "granted"}
	cfg.Media.Microphone = DeviceConfig{Present: true, Permission: "granted"}

	cfg.Sessions.IdleTTL = 30 * time.Minute
	cfg.Sessions.JanitorInterval = time.Minute
	cfg.Sessions.MaxPerOwner = 5

	cfg.Upload.Backend = "simulated"
	cfg.Upload.Dir = "data/uploads"
	cfg.Upload.S3.Region = "us-east-1"
	cfg.Upload.S3.Prefix = "cv"
	cfg.Upload.MaxSizeBytes = 5 * 1024 * 1024
	cfg.Upload.StepPercent = 10
	cfg.Upload.StepInterval = 200 * time.Millisecond
	cfg.Upload.Timeout = time.Minute
	cfg.Upload.Retention = time.Hour

	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.WriteTimeout = 10 * time.Second
	cfg.WebSocket.SendBuffer = 64

	cfg.Reliability.RetryAttempts = 2
	cfg.Reliability.RetryDelay = 50 * time.Millisecond
	cfg.Reliability.FailureThreshold = 5
	cfg.Reliability.BreakerTimeout = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"COACHROOM_SERVER_ADDRESS": &c.Server.Address,
		"COACHROOM_LOG_LEVEL":      &c.Logging.Level,
		"COACHROOM_REDIS_ADDRESS":  &c.Redis.Address,
		"COACHROOM_REDIS_PASSWORD": &c.Redis.Password,
		"COACHROOM_JWT_SECRET":     &c.Auth.JWTSecret,
		"COACHROOM_DEMO_EMAIL":     &c.Auth.Demo.Email,
		"COACHROOM_DEMO_PASSWORD":  &c.Auth.Demo.Password,
		"COACHROOM_JAEGER_URL":     &c.Tracing.JaegerURL,
		"COACHROOM_UPLOAD_BACKEND": &c.Upload.Backend,
		"COACHROOM_UPLOAD_DIR":     &c.Upload.Dir,
		"COACHROOM_S3_ENDPOINT":    &c.Upload.S3.Endpoint,
		"COACHROOM_S3_BUCKET":      &c.Upload.S3.Bucket,
		"COACHROOM_S3_ACCESS_KEY":  &c.Upload.S3.AccessKeyID,
		"COACHROOM_S3_SECRET_KEY":  &c.Upload.S3.SecretAccessKey,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"COACHROOM_REDIS_ENABLED":   &c.Redis.Enabled,
		"COACHROOM_TRACING_ENABLED": &c.Tracing.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"COACHROOM_PROBE_GRACE":      &c.Media.ProbeGrace,
		"COACHROOM_SESSION_IDLE_TTL": &c.Sessions.IdleTTL,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}
