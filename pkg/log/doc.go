/*
Package log provides structured logging for helios using zerolog.

The global Logger is initialized once via Init, from CLI flags
(--log-level, --log-json). Every component gets a child logger via
WithComponent("launch"), WithComponent("healthmon"), etc., and call sites
that need to correlate a line with a specific worker, model, or replica use
WithWorker/WithModelUID/WithReplicaUID.

Example:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("healthmon")
	logger.Warn().Str("address", addr).Int("failure_remaining", n).
		Msg("worker missed health deadline")

JSON output:

	{"level":"warn","component":"healthmon","address":"10.0.0.2:9000","failure_remaining":1,"time":"2026-07-31T10:30:01Z","message":"worker missed health deadline"}
*/
package log
