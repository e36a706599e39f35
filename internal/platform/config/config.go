package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"required,oneof=mysql sqlite3"`
	Host     string `yaml:"host" validate:"required_if=Driver mysql"`
	Port     int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Username string `yaml:"user" validate:"required_if=Driver mysql"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname" validate:"required_if=Driver mysql"`
	// sqlite3 のときだけ使う
	Path string `yaml:"path" validate:"required_if=Driver sqlite3"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key" validate:"required_with=Cert"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	RequestTimeout  time.Duration `yaml:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	Certificate     Certs         `yaml:"certificate"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" validate:"required,min=32"`
	TokenTTL  time.Duration `yaml:"token_ttl" validate:"gt=0"`
	// 1分あたりのログイン試行回数（メールアドレス単位）
	LoginPerMinute int `yaml:"login_per_minute" validate:"min=1"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name" validate:"required"`
}

type Config struct {
	Version   string          `yaml:"version"`
	Mode      string          `yaml:"mode" validate:"required,oneof=dev release"`
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

func (c *Config) IsDev() bool { return c.Mode == "dev" }

// Load: yaml を読み込み、環境変数で上書きしてから検証する
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("設定値が不正: %w", err)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Mode: "release",
		HTTP: HTTPConfig{
			Addr:            ":8443",
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		DB: DatabaseConfig{
			Driver: "mysql",
			Port:   3306,
		},
		Auth: AuthConfig{
			TokenTTL:       time.Hour,
			LoginPerMinute: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "library-backend",
		},
	}
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"LIBRARY_MODE":          &cfg.Mode,
		"LIBRARY_HTTP_ADDR":     &cfg.HTTP.Addr,
		"LIBRARY_DB_DRIVER":     &cfg.DB.Driver,
		"LIBRARY_DB_HOST":       &cfg.DB.Host,
		"LIBRARY_DB_USER":       &cfg.DB.Username,
		"LIBRARY_DB_PASSWORD":   &cfg.DB.Password,
		"LIBRARY_DB_NAME":       &cfg.DB.DBName,
		"LIBRARY_DB_PATH":       &cfg.DB.Path,
		"LIBRARY_JWT_SECRET":    &cfg.Auth.JWTSecret,
		"LIBRARY_LOG_LEVEL":     &cfg.Log.Level,
		"LIBRARY_OTLP_ENDPOINT": &cfg.Telemetry.OTLPEndpoint,
	}
	for k, p := range str {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}
	if v, ok := os.LookupEnv("LIBRARY_DB_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIBRARY_DB_PORT が不正: %w", err)
		}
		cfg.DB.Port = n
	}
	return nil
}
