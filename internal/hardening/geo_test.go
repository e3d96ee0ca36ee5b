package hardening

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	madrid = Location{Lat: 40.4168, Lon: -3.7038}
	paris  = Location{Lat: 48.8566, Lon: 2.3522}
)

func TestHaversineKnownDistances(t *testing.T) {
	// Madrid-París ronda los 1050 km
	d := HaversineKm(madrid.Lat, madrid.Lon, paris.Lat, paris.Lon)
	assert.InDelta(t, 1053, d, 30)

	assert.Zero(t, HaversineKm(madrid.Lat, madrid.Lon, madrid.Lat, madrid.Lon))

	// antípodas aproximadas: media circunferencia terrestre
	d = HaversineKm(0, 0, 0, 180)
	assert.InDelta(t, 20015, d, 50)
}

func TestGeoImpossibleTravel(t *testing.T) {
	g := NewGeoTracker(900)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// primera observación: nunca anómala
	gc := g.Observe("alice", Location{Lat: madrid.Lat, Lon: madrid.Lon, At: base})
	assert.False(t, gc.Impossible)

	// ~1000 km en 10 minutos: imposible
	gc = g.Observe("alice", Location{Lat: paris.Lat, Lon: paris.Lon, At: base.Add(10 * time.Minute)})
	assert.True(t, gc.Impossible)
	assert.Greater(t, gc.SpeedKmh, 900.0)
	assert.InDelta(t, 1053, gc.DistanceKm, 30)
}

func TestGeoPlausibleTravel(t *testing.T) {
	g := NewGeoTracker(900)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Observe("bob", Location{Lat: madrid.Lat, Lon: madrid.Lon, At: base})
	gc := g.Observe("bob", Location{Lat: paris.Lat, Lon: paris.Lon, At: base.Add(24 * time.Hour)})
	assert.False(t, gc.Impossible)
	assert.Less(t, gc.SpeedKmh, 100.0)
}

func TestGeoClockSkewBackwards(t *testing.T) {
	g := NewGeoTracker(900)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Observe("carol", Location{Lat: madrid.Lat, Lon: madrid.Lon, At: base})
	// reloj hacia atrás con salto geográfico: sospechoso igual
	gc := g.Observe("carol", Location{Lat: paris.Lat, Lon: paris.Lon, At: base.Add(-time.Minute)})
	assert.True(t, gc.Impossible)
}

func TestGeoForget(t *testing.T) {
	g := NewGeoTracker(900)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	g.Observe("dave", Location{Lat: madrid.Lat, Lon: madrid.Lon, At: base})
	g.Forget("dave")

	gc := g.Observe("dave", Location{Lat: paris.Lat, Lon: paris.Lon, At: base.Add(time.Minute)})
	assert.False(t, gc.Impossible)
}
