package geo

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	polyline "github.com/twpayne/go-polyline"
)

// EncodePolyline encodes a path in the Google polyline format (lat,lng order, 1e-5 precision).
func EncodePolyline(path orb.LineString) string {
	if len(path) == 0 {
		return ""
	}
	coords := make([][]float64, len(path))
	for i, p := range path {
		coords[i] = []float64{p.Lat(), p.Lon()}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline is the inverse of EncodePolyline.
func DecodePolyline(encoded string) (orb.LineString, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	path := make(orb.LineString, len(coords))
	for i, c := range coords {
		path[i] = orb.Point{c[1], c[0]}
	}
	return path, nil
}

// PathFeature wraps a path as a GeoJSON LineString feature with summary properties.
func PathFeature(path orb.LineString) *geojson.Feature {
	f := geojson.NewFeature(path)
	f.Properties["points"] = len(path)
	f.Properties["lengthKm"] = PathLengthKm(path)
	return f
}
