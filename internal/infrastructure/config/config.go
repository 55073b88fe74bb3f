package config

import "time"

// Config is the root of config.yaml. Durations are Go duration strings
// ("30s", "15m").
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Sync      SyncConfig      `yaml:"sync"`
	Directory DirectoryConfig `yaml:"directory"`
}

// SiteConfig names the installation in logs and metrics.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	WALMode     bool          `yaml:"wal_mode"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// MQTTConfig is the broker that bridges publish device state to. The
// server also publishes its status and the session list there.
type MQTTConfig struct {
	Broker struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		TLS      bool   `yaml:"tls"`
		ClientID string `yaml:"client_id"`
	} `yaml:"broker"`
	Auth struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"auth"`
	QoS int `yaml:"qos"`

	// Reconnect backoff starts at InitialDelay and doubles up to MaxDelay.
	Reconnect struct {
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"reconnect"`
}

// APIConfig is the HTTP listener for the admin API and /ws.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	TLS struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Timeouts struct {
		Read  time.Duration `yaml:"read"`
		Write time.Duration `yaml:"write"`
		Idle  time.Duration `yaml:"idle"`
	} `yaml:"timeouts"`

	// CORS headers are only sent to listed origins; "*" allows any.
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
		AllowedMethods []string `yaml:"allowed_methods"`
		AllowedHeaders []string `yaml:"allowed_headers"`
	} `yaml:"cors"`
}

// WebSocketConfig holds per-connection limits.
type WebSocketConfig struct {
	MaxMessageSize int           `yaml:"max_message_size"` // bytes
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// A client more than SendBuffer frames behind is dropped.
	SendBuffer int `yaml:"send_buffer"`
	MaxInbox   int `yaml:"max_inbox"`
}

type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
	Output string `yaml:"output"` // stdout | stderr | file

	// File is the log path when Output is "file". Rotation is external.
	File string `yaml:"file"`
}

type SecurityConfig struct {
	JWT struct {
		Secret string        `yaml:"secret"`
		TTL    time.Duration `yaml:"ttl"`
	} `yaml:"jwt"`
}

// SyncConfig tunes the object synchronisation core.
type SyncConfig struct {
	// StoreTimeout bounds a synchronous store through the task queue.
	StoreTimeout time.Duration `yaml:"store_timeout"`

	AuthWorkers   int `yaml:"auth_workers"`
	AuthQueueSize int `yaml:"auth_queue_size"`

	// MaxLoginFailures drops a client after that many failed logins in a
	// row. Zero never drops.
	MaxLoginFailures int `yaml:"max_login_failures"`

	// Live session ids are published retained on SessionList.MQTTTopic
	// and written to SessionList.Path, each only when set. With both
	// empty the list is not persisted.
	SessionList struct {
		Path      string `yaml:"path"`
		MQTTTopic string `yaml:"mqtt_topic"`
	} `yaml:"session_list"`

	History struct {
		Enabled bool `yaml:"enabled"`
		Buffer  int  `yaml:"buffer"`
		// Retention of zero keeps history forever.
		Retention time.Duration `yaml:"retention"`
	} `yaml:"history"`
}

// DirectoryConfig enables LDAP authentication of directory users.
type DirectoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`

	// BindDNTemplate yields a user's DN with %s replaced by the username.
	BindDNTemplate string        `yaml:"bind_dn_template"`
	Timeout        time.Duration `yaml:"timeout"`

	// CachePasswords keeps a local hash so directory users can still log
	// in while the directory is down.
	CachePasswords bool `yaml:"cache_passwords"`
}

func defaultConfig() *Config {
	cfg := &Config{
		Site:     SiteConfig{ID: "site-001", Name: "Gray Logic"},
		Database: DatabaseConfig{Path: "./data/graylogic.db", WALMode: true, BusyTimeout: 5 * time.Second},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8 << 10,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			SendBuffer:     64,
			MaxInbox:       64,
		},
		InfluxDB:  InfluxDBConfig{BatchSize: 100, FlushInterval: 10 * time.Second},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Directory: DirectoryConfig{Timeout: 5 * time.Second},
	}

	cfg.MQTT.Broker.Host = "localhost"
	cfg.MQTT.Broker.Port = 1883
	cfg.MQTT.Broker.ClientID = "graylogic-sync"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Reconnect.InitialDelay = time.Second
	cfg.MQTT.Reconnect.MaxDelay = time.Minute

	cfg.API.Host = "0.0.0.0"
	cfg.API.Port = 8080
	cfg.API.Timeouts.Read = 30 * time.Second
	cfg.API.Timeouts.Write = 30 * time.Second
	cfg.API.Timeouts.Idle = time.Minute

	cfg.Security.JWT.TTL = 15 * time.Minute

	cfg.Sync.StoreTimeout = 30 * time.Second
	cfg.Sync.AuthWorkers = 2
	cfg.Sync.AuthQueueSize = 64
	cfg.Sync.MaxLoginFailures = 5
	cfg.Sync.History.Enabled = true
	cfg.Sync.History.Buffer = 256
	cfg.Sync.History.Retention = 30 * 24 * time.Hour

	return cfg
}
