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

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	Vision       VisionConfig       `yaml:"vision"`
	Verification VerificationConfig `yaml:"verification"`
	Biometric    BiometricConfig    `yaml:"biometric"`
	Events       EventsConfig       `yaml:"events"`
	Suspension   SuspensionConfig   `yaml:"suspension"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	Gatecam      GatecamConfig      `yaml:"gatecam"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	JWTSecret   string `yaml:"jwt_secret"`
	JWTIssuer   string `yaml:"jwt_issuer"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Name       string `yaml:"name"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	MaxConns   int    `yaml:"max_conns"`
	SQLitePath string `yaml:"sqlite_path"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir            string  `yaml:"models_dir"`
	RuntimeLib           string  `yaml:"runtime_lib"`
	DetectionThreshold   float64 `yaml:"detection_threshold"`
	RecognitionThreshold float64 `yaml:"recognition_threshold"`
	WorkerCount          int     `yaml:"worker_count"`
}

type VerificationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// BiometricSuspensionGate applies suspension standing to face matches.
	// A nil value means enabled.
	BiometricSuspensionGate *bool `yaml:"biometric_suspension_gate"`
}

// GateBiometric reports whether suspension is enforced on the face path.
func (v VerificationConfig) GateBiometric() bool {
	return v.BiometricSuspensionGate == nil || *v.BiometricSuspensionGate
}

type BiometricConfig struct {
	MaxProbeBytes int64  `yaml:"max_probe_bytes"`
	SpoolDir      string `yaml:"spool_dir"`
}

type EventsConfig struct {
	DefaultEvent string `yaml:"default_event"`
}

type SuspensionConfig struct {
	SweepSchedule string `yaml:"sweep_schedule"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	Workers  int    `yaml:"workers"`
}

// GatecamConfig drives the camera agent that submits frames for face
// verification.
type GatecamConfig struct {
	APIURL    string        `yaml:"api_url"`
	Token     string        `yaml:"token"`
	StreamURL string        `yaml:"stream_url"`
	FPS       int           `yaml:"fps"`
	Width     int           `yaml:"width"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file, then .env, then PASSGATE_* environment
// overrides. A missing file or .env leaves defaults in place.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Vision.RecognitionThreshold <= 0 || c.Vision.RecognitionThreshold > 1 {
		return fmt.Errorf("vision.recognition_threshold must be in (0, 1], got %v", c.Vision.RecognitionThreshold)
	}
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Server.JWTIssuer == "" {
		cfg.Server.JWTIssuer = "passgate"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "./data/passgate.db"
	}
	if cfg.Redis.TokenTTL == 0 {
		cfg.Redis.TokenTTL = 5 * time.Minute
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "passgate"
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "./models"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.RecognitionThreshold == 0 {
		cfg.Vision.RecognitionThreshold = 0.4
	}
	if cfg.Verification.Timeout == 0 {
		cfg.Verification.Timeout = 10 * time.Second
	}
	if cfg.Biometric.MaxProbeBytes == 0 {
		cfg.Biometric.MaxProbeBytes = 10 << 20
	}
	if cfg.Events.DefaultEvent == "" {
		cfg.Events.DefaultEvent = "Hackathon 2026"
	}
	if cfg.Suspension.SweepSchedule == "" {
		cfg.Suspension.SweepSchedule = "@every 5m"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SMTP.Workers == 0 {
		cfg.SMTP.Workers = 2
	}
	if cfg.Gatecam.APIURL == "" {
		cfg.Gatecam.APIURL = "http://localhost:8080"
	}
	if cfg.Gatecam.FPS == 0 {
		cfg.Gatecam.FPS = 2
	}
	if cfg.Gatecam.Width == 0 {
		cfg.Gatecam.Width = 640
	}
	if cfg.Gatecam.Cooldown == 0 {
		cfg.Gatecam.Cooldown = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PASSGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PASSGATE_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("PASSGATE_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("PASSGATE_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("PASSGATE_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("PASSGATE_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("PASSGATE_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("PASSGATE_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("PASSGATE_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("PASSGATE_REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PASSGATE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("PASSGATE_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("PASSGATE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("PASSGATE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("PASSGATE_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("PASSGATE_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("PASSGATE_ONNX_LIB"); v != "" {
		cfg.Vision.RuntimeLib = v
	}
	if v := os.Getenv("PASSGATE_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("PASSGATE_SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("PASSGATE_SMTP_USERNAME"); v != "" {
		cfg.SMTP.Username = v
	}
	if v := os.Getenv("PASSGATE_SMTP_PASSWORD"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("PASSGATE_DEFAULT_EVENT"); v != "" {
		cfg.Events.DefaultEvent = v
	}
	if v := os.Getenv("PASSGATE_GATECAM_API_URL"); v != "" {
		cfg.Gatecam.APIURL = v
	}
	if v := os.Getenv("PASSGATE_GATECAM_TOKEN"); v != "" {
		cfg.Gatecam.Token = v
	}
	if v := os.Getenv("PASSGATE_GATECAM_STREAM_URL"); v != "" {
		cfg.Gatecam.StreamURL = v
	}
}
