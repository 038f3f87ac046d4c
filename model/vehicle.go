package model

import (
	"fmt"
	"time"
)

type VehicleStatus int

const (
	VehicleStatusUnknown VehicleStatus = iota
	VehicleIncomingAt
	VehicleStoppedAt
	VehicleInTransitTo
)

func (s VehicleStatus) String() string {
	switch s {
	case VehicleIncomingAt:
		return "INCOMING_AT"
	case VehicleStoppedAt:
		return "STOPPED_AT"
	case VehicleInTransitTo:
		return "IN_TRANSIT_TO"
	default:
		return "UNKNOWN"
	}
}

// Last known state of a vehicle. Replaced wholesale by newer
// reports, never merged.
type VehicleLocation struct {
	Timestamp    time.Time
	VehicleID    string
	AgencyID     string
	Label        string
	LicensePlate string
	Lat          float64
	Lon          float64
	// Degrees clockwise from north. Nil when unknown.
	Bearing         *float64
	RouteID         string
	TripID          string
	StopID          string
	StopSequence    uint32
	HasStopSequence bool
	Status          VehicleStatus
	ServiceDate     ServiceDate
}

func (v VehicleLocation) SamePosition(o VehicleLocation) bool {
	return v.Lat == o.Lat && v.Lon == o.Lon
}

func (v VehicleLocation) String() string {
	return fmt.Sprintf("vehicle %s at (%f, %f) trip=%q route=%q", v.VehicleID, v.Lat, v.Lon, v.TripID, v.RouteID)
}

// BoundingBox represents a geographic rectangle. Edges are inclusive.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (bb BoundingBox) Contains(lat, lon float64) bool {
	return lat >= bb.MinLat && lat <= bb.MaxLat &&
		lon >= bb.MinLon && lon <= bb.MaxLon
}
