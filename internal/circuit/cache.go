package circuit

import "sync"

// Key addresses a single gateway circuit.
type Key struct {
	Device  string
	Circuit string
}

func (k Key) String() string {
	return k.Device + "/" + k.Circuit
}

// Cache holds the last value reported for every circuit of one gateway.
// It has a single writer (the gateway connection manager) and any number of readers.
// The most recent write wins; entries never expire.
type Cache struct {
	l      sync.RWMutex
	values map[Key]float64
}

func NewCache() *Cache {
	return &Cache{values: map[Key]float64{}}
}

func (c *Cache) Set(device, circuit string, value float64) {
	c.l.Lock()
	defer c.l.Unlock()

	c.values[Key{device, circuit}] = value
}

// Get returns the last known value, or false if the circuit was never reported.
func (c *Cache) Get(device, circuit string) (float64, bool) {
	c.l.RLock()
	defer c.l.RUnlock()

	v, ok := c.values[Key{device, circuit}]
	return v, ok
}

// Active reports whether the circuit is known and reads exactly 1.
func (c *Cache) Active(device, circuit string) bool {
	v, ok := c.Get(device, circuit)
	return ok && v == 1
}

func (c *Cache) Len() int {
	c.l.RLock()
	defer c.l.RUnlock()

	return len(c.values)
}
