/*
Package external's interfaces are consumed by internal/status,
internal/launch, and internal/registration. Four implementations are
provided: the three Memory* types (tests, `helios serve`) and BoltCacheTracker
(durable, for a real deployment's CacheTracker collaborator).
*/
package external
