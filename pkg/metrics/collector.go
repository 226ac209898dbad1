package metrics

import "time"

// RegistrySnapshot is the minimal read-only view the collector needs from
// the supervisor's Worker/Replica registries. internal/registry's Registry
// implements it; the metrics package stays decoupled from registry internals.
type RegistrySnapshot interface {
	WorkerCounts() (healthy, evicted int)
	ModelAndReplicaCounts() (models, replicas int)
}

// Collector periodically samples registry state into the Prometheus gauges
// declared in metrics.go.
type Collector struct {
	snapshot RegistrySnapshot
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over the given snapshot.
func NewCollector(snapshot RegistrySnapshot) *Collector {
	return &Collector{
		snapshot: snapshot,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	healthy, evicted := c.snapshot.WorkerCounts()
	WorkersTotal.WithLabelValues("healthy").Set(float64(healthy))
	WorkersTotal.WithLabelValues("evicted").Set(float64(evicted))

	models, replicas := c.snapshot.ModelAndReplicaCounts()
	ModelsTotal.Set(float64(models))
	ReplicasTotal.Set(float64(replicas))
}
