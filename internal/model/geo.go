package model

import "math"

// earthRadiusKm is the mean Earth radius used by Haversine.
const earthRadiusKm = 6371.0088

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is finite and within range.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BBox is a latitude/longitude rectangle. MinLon > MaxLon means the box
// crosses the antimeridian and covers [MinLon, 180] and [-180, MaxLon].
type BBox struct {
	MinLat, MinLon, MaxLat, MaxLon float64
}

// Wraps reports whether the box crosses the antimeridian.
func (b BBox) Wraps() bool { return b.MinLon > b.MaxLon }

// Contains reports whether p lies inside the box (edges inclusive).
func (b BBox) Contains(p GeoPoint) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
	}
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// BBoxAround returns a box that contains every point within km of center.
// It over-approximates; callers still filter by Haversine.
func BBoxAround(center GeoPoint, km float64) BBox {
	dLat := km / 111.0
	b := BBox{
		MinLat: math.Max(-90, center.Lat-dLat),
		MaxLat: math.Min(90, center.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}
	cos := math.Cos(center.Lat * math.Pi / 180)
	// Near the poles, or when the box reaches one, every longitude is in range.
	if cos <= 1e-6 || b.MinLat == -90 || b.MaxLat == 90 {
		return b
	}
	dLon := km / (111.0 * cos)
	if dLon >= 180 {
		return b
	}
	b.MinLon, b.MaxLon = center.Lon-dLon, center.Lon+dLon
	if b.MinLon < -180 {
		b.MinLon += 360
	}
	if b.MaxLon > 180 {
		b.MaxLon -= 360
	}
	return b
}

// SQL returns a WHERE fragment over lat/lon columns and its arguments.
func (b BBox) SQL(lat, lon string) (string, []any) {
	if b.Wraps() {
		return lat + " BETWEEN ? AND ? AND (" + lon + " >= ? OR " + lon + " <= ?)",
			[]any{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon}
	}
	return lat + " BETWEEN ? AND ? AND " + lon + " BETWEEN ? AND ?",
		[]any{b.MinLat, b.MaxLat, b.MinLon, b.MaxLon}
}
