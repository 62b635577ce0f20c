// Package config loads the server configuration from a YAML file and
// FONTEDIT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/developer-mesh/fontedit/pkg/api"
	"github.com/developer-mesh/fontedit/pkg/backends"
	"github.com/developer-mesh/fontedit/pkg/fontcontroller"
	"github.com/developer-mesh/fontedit/pkg/fonthandler"
	"github.com/developer-mesh/fontedit/pkg/observability"
	"github.com/developer-mesh/fontedit/pkg/redis"
)

// Config is the complete server configuration.
type Config struct {
	Environment   string                `mapstructure:"environment"`
	API           api.Config            `mapstructure:"api"`
	Backend       backends.Config       `mapstructure:"backend"`
	Handler       fonthandler.Config    `mapstructure:"handler"`
	Editing       fontcontroller.Config `mapstructure:"editing"`
	Redis         redis.Config          `mapstructure:"redis"`
	Observability observability.Config  `mapstructure:"observability"`
}

// Load reads the configuration. The file is FONTEDIT_CONFIG_FILE or
// configs/config.yaml; a missing file leaves the defaults in place.
// Variables from FONTEDIT_ENV_FILE (default .env) are loaded first without
// overriding the environment.
func Load() (*Config, error) {
	envFile := os.Getenv("FONTEDIT_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("FONTEDIT_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("FONTEDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("redis.addresses", "REDIS_ADDR")

	if _, err := os.Stat(configFile); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	processEnvExpansion(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

var validate = newValidator()

// newValidator reports fields by their configuration keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		problems := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			_, key, _ := strings.Cut(fe.Namespace(), ".")
			problems = append(problems, fmt.Sprintf("%s fails %s", key, fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return c.Backend.Validate()
}

// processEnvExpansion expands ${VAR} and ${VAR:-default} in string values.
func processEnvExpansion(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		switch value := v.Get(key).(type) {
		case string:
			if strings.Contains(value, "${") {
				v.Set(key, expandEnvVars(value))
			}
		case []interface{}:
			expanded := make([]string, 0, len(value))
			changed := false
			for _, item := range value {
				str, ok := item.(string)
				if !ok {
					break
				}
				if strings.Contains(str, "${") {
					str = expandEnvVars(str)
					changed = true
				}
				expanded = append(expanded, str)
			}
			if changed && len(expanded) == len(value) {
				v.Set(key, expanded)
			}
		}
	}
}

func expandEnvVars(value string) string {
	result := value
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		length := strings.Index(result[start:], "}")
		if length == -1 {
			break
		}
		end := start + length

		varRef := result[start+2 : end]
		envVar, defaultVal, _ := strings.Cut(varRef, ":-")

		envVal := os.Getenv(envVar)
		if envVal == "" {
			envVal = defaultVal
		}
		result = result[:start] + envVal + result[end+1:]
	}
	return result
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.read_timeout", 30*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.idle_timeout", 90*time.Second)
	v.SetDefault("api.rate_limit.enabled", true)
	v.SetDefault("api.rate_limit.requests_per_second", 10.0)
	v.SetDefault("api.rate_limit.burst", 20)
	v.SetDefault("api.rate_limit.max_clients", 10000)

	v.SetDefault("backend.type", backends.TypeMemory)
	v.SetDefault("backend.units_per_em", backends.DefaultUnitsPerEm)
	v.SetDefault("backend.sql.driver", "sqlite3")
	v.SetDefault("backend.sql.dsn", "")
	v.SetDefault("backend.sql.max_open_conns", 25)
	v.SetDefault("backend.sql.max_idle_conns", 5)
	v.SetDefault("backend.sql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("backend.sql.query_timeout", 10*time.Second)
	v.SetDefault("backend.s3.region", "us-east-1")
	v.SetDefault("backend.s3.bucket", "")
	v.SetDefault("backend.s3.prefix", "")
	v.SetDefault("backend.s3.endpoint", "")
	v.SetDefault("backend.s3.force_path_style", false)
	v.SetDefault("backend.s3.request_timeout", 30*time.Second)
	v.SetDefault("backend.directory.path", "")
	v.SetDefault("backend.directory.create", false)
	v.SetDefault("backend.directory.watch_debounce", 100*time.Millisecond)

	v.SetDefault("handler.local_data_size", 1000)
	v.SetDefault("handler.read_only", false)
	v.SetDefault("handler.retry.max_retries", 3)
	v.SetDefault("handler.retry.initial_interval", 100*time.Millisecond)
	v.SetDefault("handler.retry.max_interval", 2*time.Second)
	v.SetDefault("handler.retry.multiplier", 2.0)
	v.SetDefault("handler.retry.max_elapsed_time", 10*time.Second)
	v.SetDefault("handler.circuit_breaker.name", "backend-writes")
	v.SetDefault("handler.circuit_breaker.max_requests", 1)
	v.SetDefault("handler.circuit_breaker.interval", 30*time.Second)
	v.SetDefault("handler.circuit_breaker.timeout", 60*time.Second)
	v.SetDefault("handler.circuit_breaker.failure_threshold", 0.5)
	v.SetDefault("handler.circuit_breaker.minimum_request_count", 5)

	v.SetDefault("editing.throttle_interval", fontcontroller.DefaultThrottleInterval)
	v.SetDefault("editing.cache.glyph_size", 2000)
	v.SetDefault("editing.cache.instance_size", 4000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.cluster_enabled", false)
	v.SetDefault("redis.channel", "fontedit:changes")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.prefix", "fontedit")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.namespace", "fontedit")
	v.SetDefault("observability.metrics.subsystem", "")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "fontedit")
	v.SetDefault("observability.tracing.environment", "dev")
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
}
