package cache

import (
	"fmt"
	"math"
)

// ResponderPrefix namespaces nearest-responder lookups.
const ResponderPrefix = "responder:"

// responderGridPrecision is the number of decimal places kept when bucketing
// coordinates. Three places is roughly a 110 m cell at the equator.
const responderGridPrecision = 3

// ResponderKey generates a cache key for a nearest-responder lookup. Nearby
// fixes share a key so repeated lookups from one venue hit the cache.
//
// Example: "responder:52.520:13.405"
func ResponderKey(lat, lon float64) string {
	return fmt.Sprintf("%s%.*f:%.*f",
		ResponderPrefix,
		responderGridPrecision, roundTo(lat, responderGridPrecision),
		responderGridPrecision, roundTo(lon, responderGridPrecision),
	)
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	r := math.Round(v*scale) / scale
	if r == 0 {
		return 0 // no "-0.000"
	}
	return r
}
