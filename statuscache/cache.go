/*
Package statuscache holds the last known status of each displayed container.

Every write carries a sequence number from NextSeq, taken before the fetch that produced the value.
A write older than the one already stored is thrown away, so a slow fetch that started earlier can never
overwrite fresher data.
*/
package statuscache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/axolotl-cloud/jobwatch/common/models"
	log "github.com/sirupsen/logrus"
)

type Entry struct {
	Status    models.ContainerStatus `json:"status"`
	Seq       uint64                 `json:"seq"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type ChangeFunc func(key string, entry Entry)

type Cache struct {
	seq         uint64
	mutex       sync.RWMutex
	notifyMutex sync.Mutex
	entries     map[string]Entry
	listeners   []ChangeFunc
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]Entry),
	}
}

func (c *Cache) NextSeq() uint64 {
	return atomic.AddUint64(&c.seq, 1)
}

/**
the cached status, or CONTAINER_UNKNOWN if nothing has been written for the key yet
*/
func (c *Cache) Get(key string) models.ContainerStatus {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if entry, haveIt := c.entries[key]; haveIt {
		return entry.Status
	}
	return models.CONTAINER_UNKNOWN
}

func (c *Cache) Entry(key string) (Entry, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, haveIt := c.entries[key]
	return entry, haveIt
}

/**
store the status if seq is not older than what is already there. Returns false if the write was discarded.
*/
func (c *Cache) Write(key string, status models.ContainerStatus, seq uint64) bool {
	//held across store and notify so listeners see accepted writes in the order they were stored
	c.notifyMutex.Lock()
	defer c.notifyMutex.Unlock()

	c.mutex.Lock()
	if existing, haveIt := c.entries[key]; haveIt && seq < existing.Seq {
		c.mutex.Unlock()
		log.Debugf("discarding stale status %s for %s (seq %d < %d)", status, key, seq, existing.Seq)
		return false
	}
	entry := Entry{Status: status, Seq: seq, UpdatedAt: time.Now()}
	c.entries[key] = entry
	listeners := make([]ChangeFunc, len(c.listeners))
	copy(listeners, c.listeners)
	c.mutex.Unlock()

	for _, listener := range listeners {
		listener(key, entry)
	}
	return true
}

/**
put back an entry captured earlier with Entry(). If there was none, the key is removed.
The restored value gets a fresh sequence number.
*/
func (c *Cache) Restore(key string, previous Entry, hadPrevious bool) {
	if !hadPrevious {
		c.Remove(key)
		return
	}
	c.Write(key, previous.Status, c.NextSeq())
}

func (c *Cache) Remove(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, key)
}

/**
OnChange registers a callback run after every accepted write. Callbacks run one at a time in write order
and may read the cache, but must not write to it.
*/
func (c *Cache) OnChange(fn ChangeFunc) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Cache) Keys() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	rtn := make([]string, 0, len(c.entries))
	for k := range c.entries {
		rtn = append(rtn, k)
	}
	return rtn
}
