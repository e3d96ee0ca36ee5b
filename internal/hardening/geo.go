package hardening

import (
	"math"
	"sync"
	"time"
)

const earthRadiusKm = 6371.0

// Location es un punto reportado para un subject.
type Location struct {
	Lat float64
	Lon float64
	At  time.Time
}

// GeoCheck es el resultado de comparar dos ubicaciones consecutivas.
type GeoCheck struct {
	DistanceKm float64
	SpeedKmh   float64
	Impossible bool
}

// GeoTracker guarda la última ubicación conocida por subject y marca viaje
// imposible cuando la velocidad implícita supera el máximo configurado.
type GeoTracker struct {
	mu       sync.Mutex
	last     map[string]Location
	maxSpeed float64
	now      func() time.Time
}

func NewGeoTracker(maxSpeedKmh float64) *GeoTracker {
	if maxSpeedKmh <= 0 {
		maxSpeedKmh = 900
	}
	return &GeoTracker{
		last:     make(map[string]Location),
		maxSpeed: maxSpeedKmh,
		now:      time.Now,
	}
}

// Observe registra la ubicación y la compara contra la anterior. La
// primera observación de un subject nunca es anómala.
func (g *GeoTracker) Observe(subject string, loc Location) GeoCheck {
	if loc.At.IsZero() {
		loc.At = g.now()
	}

	g.mu.Lock()
	prev, ok := g.last[subject]
	g.last[subject] = loc
	g.mu.Unlock()

	if !ok {
		return GeoCheck{}
	}

	dist := HaversineKm(prev.Lat, prev.Lon, loc.Lat, loc.Lon)
	dt := loc.At.Sub(prev.At).Hours()
	if dt <= 0 {
		// mismo instante o reloj hacia atrás: distancia real sin tiempo
		return GeoCheck{DistanceKm: dist, Impossible: dist > 1}
	}
	speed := dist / dt
	return GeoCheck{DistanceKm: dist, SpeedKmh: speed, Impossible: speed > g.maxSpeed}
}

// Forget descarta la historia de un subject.
func (g *GeoTracker) Forget(subject string) {
	g.mu.Lock()
	delete(g.last, subject)
	g.mu.Unlock()
}

// HaversineKm calcula la distancia de círculo máximo entre dos coordenadas
// en grados decimales.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
