package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Server    ServerConfig    `validate:"required"`
	Database  DatabaseConfig  `validate:"required"`
	Auth      AuthConfig      `validate:"required"`
	Gatepass  GatepassConfig  `validate:"required"`
	Logging   LoggingConfig   `validate:"required"`
	Bootstrap BootstrapConfig
}

type ServerConfig struct {
	Address     string   `validate:"required"`
	Mode        string   `validate:"oneof=debug release test"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	// SameSite=None + Secure cookies for cross-origin deployments
	SecureCookies bool `mapstructure:"secure_cookies"`
}

type DatabaseConfig struct {
	Host      string `validate:"required"`
	Port      int    `validate:"required"`
	User      string `validate:"required"`
	Password  string
	Name      string        `validate:"required"`
	SSLMode   string        `mapstructure:"sslmode"`
	TxTimeout time.Duration `mapstructure:"tx_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"required"`
}

type GatepassConfig struct {
	NumberPrefix string `mapstructure:"number_prefix" validate:"required,alphanum,max=10"`
	Timezone     string `validate:"required"`
}

type LoggingConfig struct {
	Level string `validate:"required,oneof=debug info warn error"`
}

// BootstrapConfig seeds the first superadmin when none exists
type BootstrapConfig struct {
	Username string
	Email    string
	Password string
}

func NewConfig() (*Configuration, error) {
	// Local development keeps secrets in configs/.env; absence is fine.
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/gatepass")

	v.SetEnvPrefix("GATEPASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "gatepass")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.tx_timeout", "10s")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("gatepass.number_prefix", "GP")
	v.SetDefault("gatepass.timezone", "UTC")
	v.SetDefault("logging.level", "info")
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Gatepass.Timezone); err != nil {
		return fmt.Errorf("invalid gatepass.timezone %q: %w", c.Gatepass.Timezone, err)
	}
	return nil
}

// Location returns the timezone used to scope gatepass numbers to a calendar day
func (c GatepassConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
