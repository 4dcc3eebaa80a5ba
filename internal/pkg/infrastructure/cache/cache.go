package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/diwise/iot-fire-monitor/pkg/types"
)

var ErrCacheMiss = errors.New("cache miss")

// LatestReadings keeps the most recent reading per sensor so that status queries
// do not have to hit the reading history.
type LatestReadings interface {
	Put(ctx context.Context, reading types.Reading) error
	Get(ctx context.Context, sensorID string) (types.Reading, error)
}

// Registry is an in-process LatestReadings keyed by sensor id. Entries older than
// ttl are treated as missing, with time supplied by an injected clock.
type Registry struct {
	mu       sync.RWMutex
	readings map[string]types.Reading
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(ttl time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}

	return &Registry{
		readings: make(map[string]types.Reading),
		ttl:      ttl,
		now:      now,
	}
}

// Put never moves an entry backwards in time.
func (r *Registry) Put(_ context.Context, reading types.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.readings[reading.SensorID]; ok && current.ObservedAt.After(reading.ObservedAt) {
		return nil
	}

	r.readings[reading.SensorID] = reading
	return nil
}

func (r *Registry) Get(_ context.Context, sensorID string) (types.Reading, error) {
	r.mu.RLock()
	reading, ok := r.readings[sensorID]
	r.mu.RUnlock()

	if !ok {
		return types.Reading{}, ErrCacheMiss
	}

	if r.ttl > 0 && r.now().Sub(reading.ObservedAt) > r.ttl {
		r.mu.Lock()
		if current, ok := r.readings[sensorID]; ok && current.ReadingID == reading.ReadingID {
			delete(r.readings, sensorID)
		}
		r.mu.Unlock()
		return types.Reading{}, ErrCacheMiss
	}

	return reading, nil
}
