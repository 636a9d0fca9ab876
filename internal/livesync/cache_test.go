package livesync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetlive.io/internal/models"
)

func TestCacheUpsert(t *testing.T) {
	c := NewCache()

	assert.False(t, c.Upsert(models.PositionUpdate{VehicleID: 7, Lat: 36.8, Lng: 10.18}))
	assert.False(t, c.Upsert(models.PositionUpdate{VehicleID: 8, Lat: 35.8, Lng: 10.6}))
	assert.True(t, c.Upsert(models.PositionUpdate{VehicleID: 7, Lat: 36.9, Lng: 10.2, Speed: models.Float64Ptr(50)}))

	require.Equal(t, 2, c.Len())
	list := c.List()
	assert.Equal(t, int64(7), list[0].VehicleID, "replaced in place")
	assert.Equal(t, int64(8), list[1].VehicleID)

	got, ok := c.Get(7)
	require.True(t, ok)
	require.NotNil(t, got.Speed)
	assert.Equal(t, 50.0, *got.Speed)

	_, ok = c.Get(9)
	assert.False(t, ok)
}

func TestCacheListIsACopy(t *testing.T) {
	c := NewCache()
	c.Upsert(models.PositionUpdate{VehicleID: 7, Lat: 1})

	list := c.List()
	list[0].Lat = 99

	got, _ := c.Get(7)
	assert.Equal(t, 1.0, got.Lat)
}

func TestCacheReplace(t *testing.T) {
	c := NewCache()
	c.Upsert(models.PositionUpdate{VehicleID: 1})

	c.Replace([]models.PositionUpdate{{VehicleID: 7, Lat: 1}, {VehicleID: 8}, {VehicleID: 7, Lat: 2}})

	require.Equal(t, 2, c.Len())
	got, _ := c.Get(7)
	assert.Equal(t, 2.0, got.Lat)
	_, ok := c.Get(1)
	assert.False(t, ok)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Upsert(models.PositionUpdate{VehicleID: int64(i % 10), Lat: float64(w)})
				_ = c.List()
				_, _ = c.Get(int64(i % 10))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 10, c.Len())
}
