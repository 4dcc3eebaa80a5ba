package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/diwise/iot-fire-monitor/pkg/types"
	"github.com/matryer/is"
)

func TestRegistryExpiresOldEntries(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(5*time.Minute, func() time.Time { return now })

	is.NoErr(r.Put(ctx, types.Reading{ReadingID: "r1", SensorID: "s1", Value: 12, ObservedAt: now.Add(-time.Minute)}))

	reading, err := r.Get(ctx, "s1")
	is.NoErr(err)
	is.Equal(reading.Value, 12.0)

	now = now.Add(10 * time.Minute)

	_, err = r.Get(ctx, "s1")
	is.True(errors.Is(err, ErrCacheMiss))
}

func TestRegistryIgnoresOlderReadings(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	now := time.Now()
	r := NewRegistry(0, nil)

	is.NoErr(r.Put(ctx, types.Reading{ReadingID: "new", SensorID: "s1", Value: 2, ObservedAt: now}))
	is.NoErr(r.Put(ctx, types.Reading{ReadingID: "old", SensorID: "s1", Value: 1, ObservedAt: now.Add(-time.Second)}))

	reading, err := r.Get(ctx, "s1")
	is.NoErr(err)
	is.Equal(reading.ReadingID, "new")
}

func TestRedisCache(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	c := NewRedisCache(NewRedisClient(mr.Addr(), "", 0), time.Minute)
	defer c.Close()

	is.NoErr(c.Ping(ctx))

	_, err := c.Get(ctx, "s1")
	is.True(errors.Is(err, ErrCacheMiss))

	observedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	is.NoErr(c.Put(ctx, types.Reading{ReadingID: "r1", SensorID: "s1", Value: 42.5, ObservedAt: observedAt}))

	reading, err := c.Get(ctx, "s1")
	is.NoErr(err)
	is.Equal(reading.Value, 42.5)
	is.True(reading.ObservedAt.Equal(observedAt))

	mr.FastForward(2 * time.Minute)

	_, err = c.Get(ctx, "s1")
	is.True(errors.Is(err, ErrCacheMiss))
}
