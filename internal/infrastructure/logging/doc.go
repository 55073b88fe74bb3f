// Package logging provides structured logging on top of log/slog.
//
// Every record carries service and version fields; components add their
// own with Component:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/graylogic/sync.log"
//
//	logger := logging.New(cfg.Logging, version)
//	defer logger.Close()
//	logger.Component("session").Info("client connected", "session_id", id)
//
// Packages that log take a small interface (Debug, Info, Warn, Error) so
// *Logger can be passed in without them importing this package.
//
// Never log passwords, tokens or password hashes.
package logging
