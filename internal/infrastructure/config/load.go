package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const minJWTSecretLength = 32

// Load layers path over the defaults, applies GRAYLOGIC_* environment
// overrides and validates the result. Unknown YAML keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	defer f.Close()

	cfg := defaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// envFields maps environment variables to the fields they override.
// Secrets belong here rather than in the file.
func (c *Config) envFields() map[string]any {
	return map[string]any{
		"GRAYLOGIC_DATABASE_PATH":           &c.Database.Path,
		"GRAYLOGIC_MQTT_HOST":               &c.MQTT.Broker.Host,
		"GRAYLOGIC_MQTT_PORT":               &c.MQTT.Broker.Port,
		"GRAYLOGIC_MQTT_USERNAME":           &c.MQTT.Auth.Username,
		"GRAYLOGIC_MQTT_PASSWORD":           &c.MQTT.Auth.Password,
		"GRAYLOGIC_API_HOST":                &c.API.Host,
		"GRAYLOGIC_API_PORT":                &c.API.Port,
		"GRAYLOGIC_INFLUXDB_TOKEN":          &c.InfluxDB.Token,
		"GRAYLOGIC_JWT_SECRET":              &c.Security.JWT.Secret,
		"GRAYLOGIC_LOG_LEVEL":               &c.Logging.Level,
		"GRAYLOGIC_SYNC_STORE_TIMEOUT":      &c.Sync.StoreTimeout,
		"GRAYLOGIC_SYNC_SESSION_LIST_PATH":  &c.Sync.SessionList.Path,
		"GRAYLOGIC_SYNC_MAX_LOGIN_FAILURES": &c.Sync.MaxLoginFailures,
		"GRAYLOGIC_DIRECTORY_ENABLED":       &c.Directory.Enabled,
		"GRAYLOGIC_DIRECTORY_URL":           &c.Directory.URL,
	}
}

// applyEnv sets every non-empty override. A value that does not parse for
// its field is skipped and the file value stays.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for key, field := range c.envFields() {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		switch p := field.(type) {
		case *string:
			*p = v
		case *int:
			if n, err := strconv.Atoi(v); err == nil {
				*p = n
			}
		case *bool:
			if b, err := strconv.ParseBool(v); err == nil {
				*p = b
			}
		case *time.Duration:
			if d, err := time.ParseDuration(v); err == nil {
				*p = d
			}
		}
	}
}

// Validate reports every problem in one error.
func (c *Config) Validate() error {
	var errs []error
	require := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	require(c.Site.ID != "", "site.id is required")
	require(c.Database.Path != "", "database.path is required")
	require(c.MQTT.Broker.Host != "", "mqtt.broker.host is required")
	require(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	require(c.API.Port > 0 && c.API.Port < 1<<16, "api.port must be between 1 and 65535")
	if c.API.TLS.Enabled {
		require(c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != "", "api.tls needs cert_file and key_file")
	}
	require(c.WebSocket.SendBuffer > 0, "websocket.send_buffer must be positive")

	// A token is an admin credential for as long as its session lives.
	secret := c.Security.JWT.Secret
	require(secret != "", "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET)")
	require(secret == "" || len(secret) >= minJWTSecretLength,
		"security.jwt.secret must be at least %d characters", minJWTSecretLength)
	require(c.Security.JWT.TTL > 0, "security.jwt.ttl must be positive")

	if c.InfluxDB.Enabled {
		require(c.InfluxDB.URL != "" && c.InfluxDB.Bucket != "", "influxdb needs url and bucket when enabled")
	}

	require(c.Sync.StoreTimeout > 0, "sync.store_timeout must be positive")
	require(c.Sync.AuthWorkers > 0, "sync.auth_workers must be positive")
	require(c.Sync.AuthQueueSize > 0, "sync.auth_queue_size must be positive")
	require(c.Sync.MaxLoginFailures >= 0, "sync.max_login_failures must not be negative")
	require(c.Sync.History.Retention >= 0, "sync.history.retention must not be negative")

	if c.Directory.Enabled {
		require(c.Directory.URL != "", "directory.url is required when the directory is enabled")
		require(strings.Contains(c.Directory.BindDNTemplate, "%s"), "directory.bind_dn_template must contain %%s")
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("configuration errors:\n%w", err)
	}
	return nil
}
