// Package config loads config.yaml for the sync server.
//
// Values are layered: built-in defaults, then the YAML file, then
// GRAYLOGIC_* environment variables. Validate collects every problem so an
// operator sees them all in one run.
//
// Secrets (security.jwt.secret, mqtt.auth.password, influxdb.token) should
// come from the environment rather than the file:
//
//	GRAYLOGIC_JWT_SECRET=... GRAYLOGIC_CONFIG=/etc/graylogic/config.yaml graylogic
//
// Durations are written as Go duration strings ("30s", "15m", "720h") and
// decode straight into time.Duration fields. Unknown keys are an error.
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	proc := taskproc.New(ns, authn, taskproc.Config{StoreTimeout: cfg.Sync.StoreTimeout})
package config
