/*
Package health provides the active-probe checkers the Health Monitor
(internal/healthmon) may run against a worker's advertised health endpoint
before deciding whether a missed passive status push counts against its
failure countdown.

Two checker types are implemented: HTTPChecker and TCPChecker. Both satisfy
the Checker interface (Check, Type) and report a Result with a Healthy flag,
a message, and how long the check took. Status accumulates consecutive
successes/failures and flips Healthy after Config.Retries consecutive
failures — the same debounce a flaky single check shouldn't cause an
eviction.

Active probing is optional and additive: the Health Monitor's primary
eviction signal is always the passive last_update_time staleness timer
described in spec §4.G; a worker that fails an HTTP/TCP probe but is still
pushing status is not evicted on the probe result alone.
*/
package health
