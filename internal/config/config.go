package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Address         string        `mapstructure:"address"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	DB struct {
		// Driver is "postgres" or "memory".
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		Migrate  bool   `mapstructure:"migrate"`
	} `mapstructure:"db"`
	Scheduler struct {
		// Driver is "postgres", "redis", "sqlite" or "memory".
		Driver       string        `mapstructure:"driver"`
		SQLitePath   string        `mapstructure:"sqlite_path"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
		BatchSize    int           `mapstructure:"batch_size"`
		Lease        time.Duration `mapstructure:"lease"`
		MaxParallel  int           `mapstructure:"max_parallel"`
		Redis        struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
			Prefix   string `mapstructure:"prefix"`
		} `mapstructure:"redis"`
	} `mapstructure:"scheduler"`
	SLA struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
		RuleCacheTTL time.Duration `mapstructure:"rule_cache_ttl"`
	} `mapstructure:"sla"`
	Notify struct {
		// URL of the notification service. Empty logs notifications instead
		// of sending them.
		URL             string            `mapstructure:"url"`
		Timeout         time.Duration     `mapstructure:"timeout"`
		ContactsFile    string            `mapstructure:"contacts_file"`
		DefaultContacts map[string]string `mapstructure:"default_contacts"`
	} `mapstructure:"notify"`
	Plans struct {
		File string `mapstructure:"file"`
	} `mapstructure:"plans"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Telemetry struct {
		Enabled     bool   `mapstructure:"enabled"`
		Exporter    string `mapstructure:"exporter"`
		Endpoint    string `mapstructure:"endpoint"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "dev")
}

// DSN returns the keyword/value connection string of the database.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "prod")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.migrate", true)
	v.SetDefault("scheduler.driver", "postgres")
	v.SetDefault("scheduler.sqlite_path", "riskflow-queue.db")
	v.SetDefault("scheduler.poll_interval", 2*time.Second)
	v.SetDefault("scheduler.batch_size", 16)
	v.SetDefault("scheduler.lease", 5*time.Minute)
	v.SetDefault("scheduler.max_parallel", 8)
	v.SetDefault("scheduler.redis.addr", "localhost:6379")
	v.SetDefault("scheduler.redis.prefix", "riskflow:")
	v.SetDefault("sla.tick_interval", time.Minute)
	v.SetDefault("sla.rule_cache_ttl", time.Minute)
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.service_name", "riskflow")
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file is
// not an error so the service can run from environment variables alone.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("RISKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
