// Gray Logic Sync - real-time object synchronisation server.
//
// Clients connect over WebSocket, log in, and receive add/change/remove
// notifications for every namespace object they may read. Device state
// arrives from the protocol bridges over MQTT and is fanned out the same way.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-sync/internal/api"
	"github.com/nerrad567/gray-logic-sync/internal/audit"
	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/device"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
	"github.com/nerrad567/gray-logic-sync/internal/session"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
	"github.com/nerrad567/gray-logic-sync/migrations"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	auditBuffer     = 256
	authStopTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the server together and blocks until ctx is cancelled or a
// component fails.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Sync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // nothing left to report to
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	pending, err := db.Pending(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("checking migrations: %w", err)
	}
	for _, m := range pending {
		log.Info("applying migration", "version", m.Version, "name", m.Name)
	}
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", db.Path(), "migrations_applied", len(pending))

	userRepo := auth.NewUserRepository(db.DB)
	roomRepo := auth.NewRoomAccessRepository(db.DB)
	if _, seedErr := auth.SeedOwner(ctx, userRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding owner account: %w", seedErr)
	}

	ns, err := buildNamespace(ctx, db, userRepo, roomRepo, log)
	if err != nil {
		return err
	}

	directory, err := newDirectory(cfg)
	if err != nil {
		return fmt.Errorf("configuring directory: %w", err)
	}
	authn := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Workers:                 cfg.Sync.AuthWorkers,
		QueueSize:               cfg.Sync.AuthQueueSize,
		CacheDirectoryPasswords: cfg.Directory.CachePasswords,
	}, directory)
	authn.SetLogger(log.Component("auth"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, auditBuffer)
	recorder.SetLogger(log.Component("audit"))

	proc := taskproc.New(ns, authn, taskproc.Config{StoreTimeout: cfg.Sync.StoreTimeout})
	proc.SetLogger(log.Component("taskproc"))
	proc.SetAuditor(recorder)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := taskproc.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	proc.SetMetrics(metrics)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	sessionList := newSessionListWriter(cfg, mqttClient)
	if sessionList != nil {
		sessionList.SetLogger(log.Component("sessions"))
		proc.SetSessionList(sessionList)
		// Clears a list left behind by a previous run.
		sessionList.Update(nil)
	} else {
		log.Info("session list persistence disabled")
	}

	ingestor := device.NewIngestor(proc)
	ingestor.SetLogger(log.Component("ingestor"))
	proc.AddObserver(ingestor)
	for _, n := range ns.List(device.TypeDevice) {
		if obj, ok := ns.Lookup(n); ok {
			if dev, isDevice := obj.(*device.Device); isDevice {
				ingestor.Track(dev)
			}
		}
	}

	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		proc.AddObserver(device.NewTelemetry(influxClient))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)
	var history *device.History
	if cfg.Sync.History.Enabled {
		history = device.NewHistory(historyRepo, cfg.Sync.History.Buffer, cfg.Sync.History.Retention)
		history.SetLogger(log.Component("history"))
		proc.AddObserver(history)
	}

	transport := session.NewTransport(proc, session.Config{
		MaxMessageSize:   int64(cfg.WebSocket.MaxMessageSize),
		PingInterval:     cfg.WebSocket.PingInterval,
		PongTimeout:      cfg.WebSocket.PongTimeout,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		SendBuffer:       cfg.WebSocket.SendBuffer,
		MaxInbox:         cfg.WebSocket.MaxInbox,
		MaxLoginFailures: cfg.Sync.MaxLoginFailures,
		TokenSecret:      cfg.Security.JWT.Secret,
		TokenTTL:         cfg.Security.JWT.TTL,
	})
	transport.SetLogger(log.Component("session"))

	server, err := api.New(api.Deps{
		Config:      cfg.API,
		TokenSecret: cfg.Security.JWT.Secret,
		Logger:      log.Component("api"),
		Transport:   transport,
		Sessions:    proc,
		AuditRepo:   auditRepo,
		History:     historyRepo,
		Gatherer:    registry,
		MQTT:        mqttClient,
		DB:          db.DB,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	if sessionList != nil {
		g.Go(func() error { return sessionList.Run(gctx) })
	}
	if history != nil {
		g.Go(func() error { return history.Run(gctx) })
	}
	authn.Start(gctx)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		var errs []error
		if err := server.Close(); err != nil {
			errs = append(errs, err)
		}
		// Hijacked sockets are not closed by the HTTP server.
		transport.CloseAll()
		if err := authn.Stop(authStopTimeout); err != nil {
			errs = append(errs, fmt.Errorf("stopping authenticator: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := ingestor.Start(mqttClient); err != nil {
		return abort(g, err)
	}
	if err := server.Start(gctx); err != nil {
		return abort(g, fmt.Errorf("starting API server: %w", err))
	}
	if err := healthCheck(gctx, db, mqttClient, influxClient); err != nil {
		return abort(g, fmt.Errorf("health check failed: %w", err))
	}
	log.Info("initialisation complete", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("Gray Logic Sync stopped")
	return nil
}

// abort fails the run group with cause and waits for every component to
// stop. The group's first error is returned, which is cause unless a
// component had already failed.
func abort(g *errgroup.Group, cause error) error {
	g.Go(func() error { return cause })
	return g.Wait()
}

// buildNamespace registers the object types and loads persisted objects.
func buildNamespace(ctx context.Context, db *database.DB, users *auth.SQLiteUserRepository, rooms *auth.SQLiteRoomAccessRepository, log *logging.Logger) (*namespace.Namespace, error) {
	ns := namespace.New()
	ns.SetLogger(log.Component("namespace"))

	store := namespace.NewSQLiteStore(db.DB)
	for _, spec := range []namespace.TypeSpec{
		namespace.UserSpec(namespace.NewUserStore(users, rooms)),
		namespace.RecordSpec(namespace.TypeRecord, store),
		device.Spec(store),
		taskproc.ConnectionSpec(),
	} {
		if err := ns.RegisterType(spec); err != nil {
			return nil, fmt.Errorf("registering type %s: %w", spec.Name, err)
		}
	}

	accounts, err := auth.LoadUsers(ctx, users, rooms)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	for _, u := range accounts {
		if _, err := ns.StoreObject(u); err != nil {
			return nil, fmt.Errorf("publishing user %s: %w", u.Username, err)
		}
	}

	for _, typ := range []string{namespace.TypeRecord, device.TypeDevice} {
		if _, err := ns.Load(ctx, typ, store); err != nil {
			return nil, err
		}
	}
	log.Info("namespace ready", "objects", ns.Len(), "users", len(accounts))
	return ns, nil
}

// newDirectory returns the LDAP directory, or nil when disabled.
func newDirectory(cfg *config.Config) (auth.Directory, error) {
	if !cfg.Directory.Enabled {
		return nil, nil
	}
	dir, err := auth.NewLDAPDirectory(auth.LDAPConfig{
		URL:            cfg.Directory.URL,
		BindDNTemplate: cfg.Directory.BindDNTemplate,
		Timeout:        cfg.Directory.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// newSessionListWriter persists the session list to the configured MQTT
// topic and file. With neither configured it returns nil and the list is
// not persisted at all.
func newSessionListWriter(cfg *config.Config, publisher taskproc.Publisher) *taskproc.SessionListWriter {
	var sinks taskproc.MultiSink
	if topic := cfg.Sync.SessionList.MQTTTopic; topic != "" {
		sinks = append(sinks, taskproc.MQTTSink{Publisher: publisher, Topic: topic})
	}
	if path := cfg.Sync.SessionList.Path; path != "" {
		sinks = append(sinks, taskproc.FileSink{Path: path})
	}
	if len(sinks) == 0 {
		return nil
	}
	return taskproc.NewSessionListWriter(sinks)
}

// getConfigPath returns GRAYLOGIC_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections. influxClient may be
// nil when InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
