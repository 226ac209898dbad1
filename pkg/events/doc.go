/*
Package events provides an in-memory event broker for helios's pub/sub
messaging.

The supervisor owns the broker and publishes worker.registered/removed
around add_worker/remove_worker, worker.evicted from the Health Monitor's
eviction hook (one per dead worker, naming the models it invalidated), and
model.launching/model.ready/model.error/model.terminated around
launch_builtin_model and terminate_model. Subscribers (a future audit log,
an API layer's push channel) consume a buffered channel from Subscribe and
must not block the broker — a full subscriber buffer drops that event
rather than stalling Publish.
*/
package events
