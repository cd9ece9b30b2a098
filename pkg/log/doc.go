/*
Package log provides structured logging for keyguardd using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and a global
logger accessible from every package without threading a logger through
every call.

# Usage

	import "github.com/keyguard/keyguardd/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("keyguardd starting")
	log.Error("failed to open key storage engine")

Component loggers:

	persistLog := log.WithComponent("persist")
	persistLog.Info().Uint64("slot", uint64(slot)).Msg("slot persisted")

	daemonLog := log.WithComponent("daemon")
	daemonLog.Error().Err(err).Msg("accept failed")

# Design patterns

Global logger: one package-level zerolog.Logger, initialized once in
cmd/keyguardd's cobra.OnInitialize hook, used directly by packages that
have no natural per-instance logger (e.g. package-level helpers).

Component logger: WithComponent("broker"), WithComponent("keystore"), and
similar child loggers are held as package-level vars in the subsystems
that use them, so every log line carries which subsystem emitted it
without repeating a field at every call site.

# Security

Never log key material, slot payloads, or access-control secrets. Log the
slot number, user ID, and operation — never the payload bytes.
*/
package log
