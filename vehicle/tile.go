package vehicle

import (
	"fmt"
	"math"
)

const (
	DefaultTileZoom = 14

	// Web Mercator is undefined beyond this latitude
	maxMercatorLat = 85.05112878
)

// A slippy map tile.
type tile struct {
	x, y int
}

func (t tile) String() string {
	return fmt.Sprintf("%d/%d", t.x, t.y)
}

// Tile containing lat, lon at zoom. Coordinates outside the Mercator
// range are clamped to the edge tiles.
func tileFor(lat, lon float64, zoom int) tile {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))

	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((lon + 180.0) / 360.0 * n))
	latRad := lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	x = max(0, min(x, maxTile))
	y = max(0, min(y, maxTile))

	return tile{x, y}
}

// Number of tiles intersecting the box, and a function visiting
// each of them.
func tilesInBox(minLat, minLon, maxLat, maxLon float64, zoom int) (int, func(func(tile))) {
	topLeft := tileFor(maxLat, minLon, zoom)
	bottomRight := tileFor(minLat, maxLon, zoom)

	w := bottomRight.x - topLeft.x + 1
	h := bottomRight.y - topLeft.y + 1
	if w <= 0 || h <= 0 {
		return 0, func(func(tile)) {}
	}

	return w * h, func(visit func(tile)) {
		for x := topLeft.x; x <= bottomRight.x; x++ {
			for y := topLeft.y; y <= bottomRight.y; y++ {
				visit(tile{x, y})
			}
		}
	}
}
