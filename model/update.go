package model

import (
	"fmt"
	"time"
)

type TripStatus int

const (
	TripAdded TripStatus = iota
	TripCanceled
	TripUpdated
	TripModified
	TripRemoved
)

func (s TripStatus) String() string {
	switch s {
	case TripAdded:
		return "ADDED"
	case TripCanceled:
		return "CANCELED"
	case TripUpdated:
		return "UPDATED"
	case TripModified:
		return "MODIFIED"
	case TripRemoved:
		return "REMOVED"
	default:
		return fmt.Sprintf("TripStatus(%d)", int(s))
	}
}

// Arrival or departure information for a single stop. Either a
// delay relative to the schedule, or an absolute time given as
// seconds after midnight of the service day.
type StopEvent struct {
	Delay    int32
	Time     int32
	Absolute bool
}

func DelayEvent(delay int32) *StopEvent {
	return &StopEvent{Delay: delay}
}

func TimeEvent(t int32) *StopEvent {
	return &StopEvent{Time: t, Absolute: true}
}

// One stop-level delta.
type Update struct {
	StopID          string
	StopSequence    uint32
	HasStopSequence bool
	Arrival         *StopEvent
	Departure       *StopEvent
	Timestamp       time.Time
}

func (u Update) HasData() bool {
	return u.Arrival != nil || u.Departure != nil
}

// All updates for one trip on one service date, as decoded from a
// single feed entity.
type TripUpdateBatch struct {
	TripID      string
	RouteID     string
	ServiceID   string
	ServiceDate ServiceDate
	Timestamp   time.Time
	Status      TripStatus
	Updates     []Update
}

// Returns a copy of the batch with leading and trailing updates
// lacking arrival and departure information removed. Interior
// records without data are kept and resolve to scheduled times.
func (b TripUpdateBatch) Filtered() TripUpdateBatch {
	start, end := 0, len(b.Updates)
	for start < end && !b.Updates[start].HasData() {
		start++
	}
	for end > start && !b.Updates[end-1].HasData() {
		end--
	}
	b.Updates = append([]Update(nil), b.Updates[start:end]...)
	return b
}

// A batch is coherent when stop sequences (where given) are strictly
// increasing and no stop is referenced twice.
func (b TripUpdateBatch) Coherent() bool {
	seen := map[string]bool{}
	var lastSeq uint32
	haveSeq := false
	for _, u := range b.Updates {
		if u.StopID != "" {
			if seen[u.StopID] {
				return false
			}
			seen[u.StopID] = true
		}
		if u.HasStopSequence {
			if haveSeq && u.StopSequence <= lastSeq {
				return false
			}
			lastSeq = u.StopSequence
			haveSeq = true
		}
		if u.StopID == "" && !u.HasStopSequence {
			return false
		}
	}
	return true
}

func (b TripUpdateBatch) String() string {
	return fmt.Sprintf("%s trip %s on %s (%d updates)", b.Status, b.TripID, b.ServiceDate, len(b.Updates))
}
