package cache

import "fmt"

// GeocodeKey returns the cache key for a free-text place query. The raw
// string is kept case-sensitive: the upstream geocoder treats "london" and
// "London" identically, so normalizing here would only mask upstream behavior.
func GeocodeKey(place string) string {
	return "geocode:" + place
}

// WeatherKey returns the cache key for a coordinate pair, rounded to three
// decimal places (roughly 100m) so near-identical requests collide on one slot.
func WeatherKey(lat, lon float64) string {
	return fmt.Sprintf("weather:%.3f,%.3f", lat, lon)
}
