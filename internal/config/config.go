package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"roombook/internal/models"
	"roombook/internal/schedule"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Google     GoogleConfig     `yaml:"google"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Exports    ExportConfig     `yaml:"exports"`
	// Admins список email или id пользователей, получающих роль admin при первом входе
	Admins    []string `yaml:"admins"`
	RoomsFile string   `yaml:"rooms_file"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTIssuer    string         `yaml:"jwt_issuer"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
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
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
	Debug        bool    `yaml:"debug"`
	// DigestTime время ежедневной сводки на завтра (HH:MM), пусто - выключено
	DigestTime string `yaml:"digest_time"`
}

// ScheduleConfig описывает рабочий день переговорных.
type ScheduleConfig struct {
	Slots            []string `yaml:"slots"`
	Timezone         string   `yaml:"timezone"`
	MinDurationHours float64  `yaml:"min_duration_hours"`
	MaxDurationHours float64  `yaml:"max_duration_hours"`
	MaxAdvanceDays   int      `yaml:"max_advance_days"`
	// RateLimitBookings мутаций бронирований на пользователя за RateLimitWindow секунд
	RateLimitBookings int `yaml:"rate_limit_bookings"`
	RateLimitWindow   int `yaml:"rate_limit_window"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	HealthCheckPort   int    `yaml:"health_check_port"`
	LogLevel          string `yaml:"log_level"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	BookingsSheetName     string `yaml:"bookings_sheet_name"`
}

type KafkaConfig struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.DSN == "" && c.Database.Postgres.Host == "" {
			return errors.New("database.postgres.dsn or host is required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if err := c.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	if c.API.Enabled && c.API.Auth.Enabled && c.API.Auth.JWTSecret == "" && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth requires jwt_secret or api_keys")
	}

	if c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
		return errors.New("telegram bot token is a placeholder")
	}

	return nil
}

func (s ScheduleConfig) Validate() error {
	if _, err := schedule.NewCatalog(s.Slots); err != nil {
		return err
	}
	if _, err := s.Location(); err != nil {
		return err
	}
	if s.MinDurationHours <= 0 {
		return errors.New("min_duration_hours must be positive")
	}
	if s.MaxDurationHours < s.MinDurationHours {
		return fmt.Errorf("max_duration_hours %.2f is below min_duration_hours %.2f", s.MaxDurationHours, s.MinDurationHours)
	}
	return nil
}

// Location возвращает часовой пояс, в котором считаются слоты.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || strings.EqualFold(s.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func (s ScheduleConfig) RateWindow() time.Duration {
	return time.Duration(s.RateLimitWindow) * time.Second
}

// ConnString собирает строку подключения к PostgreSQL, если dsn не задан явно.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
	if p.MaxConnections > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", p.MaxConnections)
	}
	return dsn
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "roombook"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
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

	// Schedule defaults
	if len(c.Schedule.Slots) == 0 {
		c.Schedule.Slots = append([]string(nil), schedule.DefaultSlots...)
	}
	if c.Schedule.MinDurationHours == 0 {
		c.Schedule.MinDurationHours = models.DefaultMinDurationHours
	}
	if c.Schedule.MaxDurationHours == 0 {
		c.Schedule.MaxDurationHours = models.DefaultMaxDurationHours
	}
	if c.Schedule.MaxAdvanceDays == 0 {
		c.Schedule.MaxAdvanceDays = 365
	}
	if c.Schedule.RateLimitBookings == 0 {
		c.Schedule.RateLimitBookings = models.DefaultRateLimitBookings
	}
	if c.Schedule.RateLimitWindow == 0 {
		c.Schedule.RateLimitWindow = models.DefaultRateLimitWindow
	}

	if c.Google.BookingsSheetName == "" {
		c.Google.BookingsSheetName = "Bookings"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "roombook.bookings"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.App.Name
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}

// IsAdmin сообщает, указан ли пользователь в списке администраторов.
func (c *Config) IsAdmin(userID, email string) bool {
	for _, a := range c.Admins {
		if a == "" {
			continue
		}
		if a == userID || (email != "" && strings.EqualFold(a, email)) {
			return true
		}
	}
	return false
}
