/*
Package metrics provides Prometheus metrics collection and exposition for
helios.

Metrics are declared and registered at package init, exposed via Handler()
for scraping, and sampled periodically by Collector from a RegistrySnapshot
(implemented by internal/registry). Operation-scoped histograms (launch
duration, health sweep duration, worker RPC duration) are recorded inline by
the components that perform those operations, using the Timer helper:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TerminationDuration)
*/
package metrics
