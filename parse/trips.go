package parse

import (
	"fmt"
	"io"

	"tidbyt.dev/transitrt/model"
)

type tripRecord struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	Headsign    string `csv:"trip_headsign"`
	ShortName   string `csv:"trip_short_name"`
	DirectionID int8   `csv:"direction_id"`
}

func (im *importer) readTrips(data io.Reader) error {
	return eachRow(tripsFile, data, func(t *tripRecord) error {
		if t.ID == "" {
			return fmt.Errorf("empty trip_id")
		}
		if im.trips[t.ID] {
			return fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		im.trips[t.ID] = true
		im.meta.NumTrips++

		if t.RouteID == "" {
			return fmt.Errorf("empty route_id")
		}
		if !im.routes[t.RouteID] {
			return fmt.Errorf("unknown route_id '%s'", t.RouteID)
		}
		if !im.services[t.ServiceID] {
			return fmt.Errorf("unknown service_id '%s'", t.ServiceID)
		}
		if _, err := flag("direction_id", t.DirectionID); err != nil {
			return err
		}

		if err := im.writer.WriteTrip(&model.Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			Headsign:    t.Headsign,
			DirectionID: t.DirectionID,
		}); err != nil {
			return fmt.Errorf("writing trip: %w", err)
		}
		return nil
	})
}
