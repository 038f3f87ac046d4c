package parse

import (
	"context"
	"fmt"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"

	"tidbyt.dev/transitrt/model"
)

// TripDescriptor schedule relationships added to GTFS-rt after the
// bindings were generated.
const (
	tripReplacement gtfsproto.TripDescriptor_ScheduleRelationship = 5
	tripDuplicated  gtfsproto.TripDescriptor_ScheduleRelationship = 6
	tripDeleted     gtfsproto.TripDescriptor_ScheduleRelationship = 7
)

// Trip updates decoded from one or more GTFS-rt feed messages.
type TripUpdateFeed struct {
	// Timestamp of the feed. If loaded from multiple feeds, the
	// last one wins.
	Timestamp time.Time
	Batches   []model.TripUpdateBatch

	// These exist to simplify debugging down the road
	NumUnscheduledTrips int
	NumDuplicatedTrips  int
	NumMissingTripID    int
}

// Vehicle positions decoded from one or more GTFS-rt feed messages.
type VehicleFeed struct {
	Timestamp time.Time
	Locations []model.VehicleLocation

	NumMissingPosition int
}

func unmarshalFeed(feed []byte) (*gtfsproto.FeedMessage, error) {
	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(feed, f)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("version %s not supported", version)
	}

	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("feed incrementality %s not supported", header.GetIncrementality())
	}

	return f, nil
}

// Decodes TripUpdate entities into batches. Absolute stop times are
// converted to seconds after midnight of the trip's service day in
// loc. Trips lacking a start_date are assumed to run on the service
// day of the feed timestamp.
func ParseTripUpdates(ctx context.Context, feeds [][]byte, loc *time.Location) (*TripUpdateFeed, error) {
	rt := &TripUpdateFeed{
		Batches: []model.TripUpdateBatch{},
	}

	for _, feed := range feeds {
		f, err := unmarshalFeed(feed)
		if err != nil {
			return nil, err
		}

		feedTime := time.Unix(int64(f.GetHeader().GetTimestamp()), 0)
		if f.GetHeader().GetTimestamp() == 0 {
			feedTime = time.Now()
		}
		rt.Timestamp = feedTime

		for _, entity := range f.GetEntity() {
			if entity.TripUpdate == nil {
				continue
			}

			err := processTripUpdate(rt, entity.TripUpdate, feedTime, loc)
			if err != nil {
				return nil, fmt.Errorf("processing entity %s: %w", entity.GetId(), err)
			}
		}
	}

	return rt, nil
}

func processTripUpdate(rt *TripUpdateFeed, tu *gtfsproto.TripUpdate, feedTime time.Time, loc *time.Location) error {
	trip := tu.GetTrip()
	if trip == nil {
		return fmt.Errorf("trip_update missing trip")
	}

	// Blank trip ID is allowed when (route_id, direction_id,
	// start_time, start_date) uniquely identifies the trip in
	// the static schedule. We don't support it.
	if trip.GetTripId() == "" {
		rt.NumMissingTripID++
		return nil
	}

	batch := model.TripUpdateBatch{
		TripID:    trip.GetTripId(),
		RouteID:   trip.GetRouteId(),
		Timestamp: feedTime,
	}

	if tu.Timestamp != nil {
		batch.Timestamp = time.Unix(int64(tu.GetTimestamp()), 0)
	}

	if trip.GetStartDate() != "" {
		date, err := model.ParseServiceDate(trip.GetStartDate())
		if err != nil {
			return fmt.Errorf("trip %s: %w", trip.GetTripId(), err)
		}
		batch.ServiceDate = date
	} else {
		batch.ServiceDate = model.NewServiceDate(feedTime.In(loc))
	}

	switch sr := trip.GetScheduleRelationship(); sr {
	case gtfsproto.TripDescriptor_SCHEDULED:
		batch.Status = model.TripUpdated
	case gtfsproto.TripDescriptor_ADDED:
		batch.Status = model.TripAdded
	case gtfsproto.TripDescriptor_CANCELED:
		batch.Status = model.TripCanceled
	case tripReplacement:
		batch.Status = model.TripModified
	case tripDeleted:
		batch.Status = model.TripRemoved
	case gtfsproto.TripDescriptor_UNSCHEDULED:
		// For frequency based trips only. Not supported!
		rt.NumUnscheduledTrips++
		return nil
	case tripDuplicated:
		// Copy of a trip in GTFS schedule. Not supported!
		rt.NumDuplicatedTrips++
		return nil
	default:
		return fmt.Errorf("trip %s: unknown schedule_relationship %d", trip.GetTripId(), sr)
	}

	midnight := batch.ServiceDate.Midnight(loc)

	for _, stu := range tu.GetStopTimeUpdate() {
		update := model.Update{
			StopID:    stu.GetStopId(),
			Timestamp: batch.Timestamp,
		}
		if stu.StopSequence != nil {
			update.StopSequence = stu.GetStopSequence()
			update.HasStopSequence = true
		}

		// Skipped and no-data stops carry no times, leaving
		// the stop at its scheduled time.
		if stu.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_SCHEDULED {
			update.Arrival = stopEvent(stu.GetArrival(), midnight)
			update.Departure = stopEvent(stu.GetDeparture(), midnight)
		}

		batch.Updates = append(batch.Updates, update)
	}

	rt.Batches = append(rt.Batches, batch)

	return nil
}

func stopEvent(ev *gtfsproto.TripUpdate_StopTimeEvent, midnight time.Time) *model.StopEvent {
	if ev == nil {
		return nil
	}
	if ev.GetTime() != 0 {
		t := time.Unix(ev.GetTime(), 0)
		return model.TimeEvent(int32(t.Sub(midnight) / time.Second))
	}
	if ev.Delay != nil {
		return model.DelayEvent(ev.GetDelay())
	}
	return nil
}

// Decodes VehiclePosition entities. Entities without a position are
// counted and dropped.
func ParseVehiclePositions(ctx context.Context, feeds [][]byte, agencyID string) (*VehicleFeed, error) {
	vf := &VehicleFeed{
		Locations: []model.VehicleLocation{},
	}

	for _, feed := range feeds {
		f, err := unmarshalFeed(feed)
		if err != nil {
			return nil, err
		}

		feedTime := time.Unix(int64(f.GetHeader().GetTimestamp()), 0)
		if f.GetHeader().GetTimestamp() == 0 {
			feedTime = time.Now()
		}
		vf.Timestamp = feedTime

		for _, entity := range f.GetEntity() {
			vp := entity.GetVehicle()
			if vp == nil {
				continue
			}

			pos := vp.GetPosition()
			if pos == nil {
				vf.NumMissingPosition++
				continue
			}

			loc := model.VehicleLocation{
				Timestamp:    feedTime,
				VehicleID:    vp.GetVehicle().GetId(),
				AgencyID:     agencyID,
				Label:        vp.GetVehicle().GetLabel(),
				LicensePlate: vp.GetVehicle().GetLicensePlate(),
				Lat:          float64(pos.GetLatitude()),
				Lon:          float64(pos.GetLongitude()),
				RouteID:      vp.GetTrip().GetRouteId(),
				TripID:       vp.GetTrip().GetTripId(),
				StopID:       vp.GetStopId(),
			}
			if loc.VehicleID == "" {
				loc.VehicleID = entity.GetId()
			}
			if vp.Timestamp != nil {
				loc.Timestamp = time.Unix(int64(vp.GetTimestamp()), 0)
			}
			if pos.Bearing != nil {
				bearing := float64(pos.GetBearing())
				loc.Bearing = &bearing
			}
			if vp.CurrentStopSequence != nil {
				loc.StopSequence = vp.GetCurrentStopSequence()
				loc.HasStopSequence = true
			}
			if vp.CurrentStatus != nil {
				switch vp.GetCurrentStatus() {
				case gtfsproto.VehiclePosition_INCOMING_AT:
					loc.Status = model.VehicleIncomingAt
				case gtfsproto.VehiclePosition_STOPPED_AT:
					loc.Status = model.VehicleStoppedAt
				case gtfsproto.VehiclePosition_IN_TRANSIT_TO:
					loc.Status = model.VehicleInTransitTo
				}
			}
			if sd := vp.GetTrip().GetStartDate(); sd != "" {
				if date, err := model.ParseServiceDate(sd); err == nil {
					loc.ServiceDate = date
				}
			}

			vf.Locations = append(vf.Locations, loc)
		}
	}

	return vf, nil
}
