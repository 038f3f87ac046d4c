package vehicle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"tidbyt.dev/transitrt/geo"
	"tidbyt.dev/transitrt/model"
)

// Resolves the route a trip belongs to.
type RouteResolver interface {
	RouteForTrip(tripID string) (string, bool)
}

type set map[string]struct{}

func addMember[K comparable](m map[K]set, key K, id string) {
	if m[key] == nil {
		m[key] = set{}
	}
	m[key][id] = struct{}{}
}

func deleteMember[K comparable](m map[K]set, key K, id string) {
	if s, ok := m[key]; ok {
		delete(s, id)
		if len(s) == 0 {
			delete(m, key)
		}
	}
}

// Index holds the last known location of every vehicle, indexed by
// vehicle, trip, route, agency and map tile.
//
// All indexes are guarded by a single lock, so readers never see a
// location present in one index but not another.
type Index struct {
	// Clock used for LastUpdated
	Now func() time.Time

	mu          sync.RWMutex
	byVehicle   map[string]model.VehicleLocation
	byTrip      map[string]set
	byRoute     map[string]set
	byAgency    map[string]set
	byTile      map[tile]set
	lastUpdated time.Time

	zoom   int
	routes RouteResolver
}

// Creates an empty index. Routes may be nil, in which case locations
// are indexed under the route ID they carry.
func NewIndex(routes RouteResolver, zoom int) *Index {
	if zoom <= 0 {
		zoom = DefaultTileZoom
	}
	idx := &Index{
		Now:    time.Now,
		zoom:   zoom,
		routes: routes,
	}
	idx.reset()
	return idx
}

func (idx *Index) reset() {
	idx.byVehicle = map[string]model.VehicleLocation{}
	idx.byTrip = map[string]set{}
	idx.byRoute = map[string]set{}
	idx.byAgency = map[string]set{}
	idx.byTile = map[tile]set{}
}

// Stores the location unless one at least as recent is already known
// for the vehicle. Reports whether the location was stored.
//
// Bearing is derived from the previous location when the vehicle has
// moved, and carried over when it hasn't.
func (idx *Index) Add(loc model.VehicleLocation) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if !idx.add(loc, true) {
		return false
	}
	idx.lastUpdated = idx.Now()
	return true
}

// Must be called with the write lock held.
func (idx *Index) add(loc model.VehicleLocation, monotonic bool) bool {
	existing, ok := idx.byVehicle[loc.VehicleID]
	if ok {
		if monotonic && !existing.Timestamp.Before(loc.Timestamp) {
			return false
		}
		if existing.SamePosition(loc) {
			loc.Bearing = existing.Bearing
		} else {
			bearing := geo.Azimuth(existing.Lat, existing.Lon, loc.Lat, loc.Lon)
			loc.Bearing = &bearing
		}
		idx.remove(existing)
	}

	if loc.TripID != "" && idx.routes != nil {
		if routeID, ok := idx.routes.RouteForTrip(loc.TripID); ok {
			loc.RouteID = routeID
		}
	}

	idx.byVehicle[loc.VehicleID] = loc
	if loc.TripID != "" {
		addMember(idx.byTrip, loc.TripID, loc.VehicleID)
	}
	if loc.RouteID != "" {
		addMember(idx.byRoute, loc.RouteID, loc.VehicleID)
	}
	if loc.AgencyID != "" {
		addMember(idx.byAgency, loc.AgencyID, loc.VehicleID)
	}
	addMember(idx.byTile, tileFor(loc.Lat, loc.Lon, idx.zoom), loc.VehicleID)

	return true
}

// Must be called with the write lock held.
func (idx *Index) remove(loc model.VehicleLocation) {
	delete(idx.byVehicle, loc.VehicleID)

	deleteMember(idx.byTrip, loc.TripID, loc.VehicleID)
	deleteMember(idx.byRoute, loc.RouteID, loc.VehicleID)
	deleteMember(idx.byAgency, loc.AgencyID, loc.VehicleID)
	deleteMember(idx.byTile, tileFor(loc.Lat, loc.Lon, idx.zoom), loc.VehicleID)
}

// Removes a vehicle from all indexes, returning its last location.
func (idx *Index) Remove(vehicleID string) (model.VehicleLocation, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	loc, ok := idx.byVehicle[vehicleID]
	if !ok {
		return model.VehicleLocation{}, false
	}
	idx.remove(loc)
	idx.lastUpdated = idx.Now()
	return loc, true
}

// Replaces the index contents with the given locations. Vehicles
// absent from locations are dropped. Bearings are still derived from
// previously known positions.
func (idx *Index) Refresh(locations []model.VehicleLocation) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	previous := idx.byVehicle
	idx.reset()

	for _, loc := range locations {
		if current, ok := idx.byVehicle[loc.VehicleID]; ok {
			// Duplicate in the feed: most recent wins
			if !current.Timestamp.Before(loc.Timestamp) {
				continue
			}
		} else if prev, ok := previous[loc.VehicleID]; ok {
			// Seed with the previous location so bearing is
			// derived from it
			idx.add(prev, false)
		}
		idx.add(loc, false)
	}

	idx.lastUpdated = idx.Now()
}

func (idx *Index) ForVehicle(vehicleID string) (model.VehicleLocation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.byVehicle[vehicleID]
	return loc, ok
}

// The vehicle on the trip with the latest report. Several vehicles
// may share a trip, e.g. coupled trains.
func (idx *Index) ForTrip(tripID string) (model.VehicleLocation, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var latest model.VehicleLocation
	found := false
	for vehicleID := range idx.byTrip[tripID] {
		loc := idx.byVehicle[vehicleID]
		if !found || loc.Timestamp.After(latest.Timestamp) ||
			(loc.Timestamp.Equal(latest.Timestamp) && loc.VehicleID < latest.VehicleID) {
			latest = loc
			found = true
		}
	}
	return latest, found
}

// Vehicles on the route, ordered by vehicle ID. Empty if none.
func (idx *Index) ForRoute(routeID string) []model.VehicleLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collect(idx.byRoute[routeID])
}

func (idx *Index) ForAgency(agencyID string) []model.VehicleLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.collect(idx.byAgency[agencyID])
}

// Vehicles inside the box (edges included), ordered by vehicle ID.
func (idx *Index) ForArea(bb model.BoundingBox) []model.VehicleLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := []model.VehicleLocation{}

	n, visit := tilesInBox(bb.MinLat, bb.MinLon, bb.MaxLat, bb.MaxLon, idx.zoom)
	if n > len(idx.byTile) {
		// Box spans more tiles than are occupied
		for _, loc := range idx.byVehicle {
			if bb.Contains(loc.Lat, loc.Lon) {
				result = append(result, loc)
			}
		}
	} else {
		visit(func(t tile) {
			for id := range idx.byTile[t] {
				loc := idx.byVehicle[id]
				if bb.Contains(loc.Lat, loc.Lon) {
					result = append(result, loc)
				}
			}
		})
	}

	sortLocations(result)
	return result
}

// Every indexed vehicle, ordered by vehicle ID.
func (idx *Index) All() []model.VehicleLocation {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]model.VehicleLocation, 0, len(idx.byVehicle))
	for _, loc := range idx.byVehicle {
		result = append(result, loc)
	}
	sortLocations(result)
	return result
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byVehicle)
}

// Time of the last mutation. Zero if never modified.
func (idx *Index) LastUpdated() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.lastUpdated
}

func (idx *Index) String() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return fmt.Sprintf("vehicle index (%d vehicles, %d tiles)", len(idx.byVehicle), len(idx.byTile))
}

// Must be called with the read lock held.
func (idx *Index) collect(ids set) []model.VehicleLocation {
	result := make([]model.VehicleLocation, 0, len(ids))
	for id := range ids {
		result = append(result, idx.byVehicle[id])
	}
	sortLocations(result)
	return result
}

func sortLocations(locs []model.VehicleLocation) {
	sort.Slice(locs, func(i, j int) bool {
		return locs[i].VehicleID < locs[j].VehicleID
	})
}
