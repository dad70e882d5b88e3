package sync

import (
	"os"

	"github.com/clawtown/clawtown/internal/util"
)

// cacheStore is the .sync_cache.json sidecar: the last-seen status per
// task, used to detect status transitions between sync cycles.
type cacheStore struct {
	path string
}

func newCacheStore(path string) *cacheStore {
	return &cacheStore{path: path}
}

func (c *cacheStore) load() (map[string]cacheEntry, error) {
	var m map[string]cacheEntry
	if err := util.ReadJSON(c.path, &m); err != nil {
		if os.IsNotExist(err) {
			return map[string]cacheEntry{}, nil
		}
		return map[string]cacheEntry{}, nil
	}
	if m == nil {
		m = map[string]cacheEntry{}
	}
	return m, nil
}

func (c *cacheStore) save(m map[string]cacheEntry) error {
	return util.WriteJSONAtomic(c.path, m, 0o644)
}
