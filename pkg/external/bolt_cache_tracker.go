package external

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketModelVersions = []byte("model_versions")

// BoltCacheTracker is a CacheTracker backed by a bbolt file. Unlike the
// supervisor's own cluster state (spec §1: reconstructed from worker
// handshakes, never persisted), the CacheTracker is an external
// collaborator whose registered-model-version records are expected to
// survive its own process restarts — persistence here does not violate the
// supervisor core's no-persistence non-goal.
type BoltCacheTracker struct {
	db *bolt.DB
}

// OpenBoltCacheTracker opens (creating if absent) a bbolt-backed
// CacheTracker under dataDir.
func OpenBoltCacheTracker(dataDir string) (*BoltCacheTracker, error) {
	path := filepath.Join(dataDir, "cache_tracker.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("external: open cache tracker db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketModelVersions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("external: init cache tracker db: %w", err)
	}
	return &BoltCacheTracker{db: db}, nil
}

// Close closes the underlying database file.
func (t *BoltCacheTracker) Close() error { return t.db.Close() }

func versionKey(modelName, modelVersion string) []byte {
	return []byte(modelName + "\x00" + modelVersion)
}

func (t *BoltCacheTracker) RecordModelVersion(v ModelVersion) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModelVersions)
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return b.Put(versionKey(v.ModelName, v.ModelVersion), data)
	})
}

func (t *BoltCacheTracker) UnregisterModelVersion(modelName, modelVersion string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModelVersions)
		return b.Delete(versionKey(modelName, modelVersion))
	})
}

func (t *BoltCacheTracker) GetModelVersions(modelName string) ([]ModelVersion, error) {
	var versions []ModelVersion
	err := t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketModelVersions)
		c := b.Cursor()
		prefix := []byte(modelName + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var mv ModelVersion
			if err := json.Unmarshal(v, &mv); err != nil {
				return err
			}
			versions = append(versions, mv)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("external: get model versions: %w", err)
	}
	return versions, nil
}

func (t *BoltCacheTracker) GetModelVersionCount(modelName string) (int, error) {
	versions, err := t.GetModelVersions(modelName)
	if err != nil {
		return 0, err
	}
	return len(versions), nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
