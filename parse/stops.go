package parse

import (
	"fmt"
	"io"

	"tidbyt.dev/transitrt/model"
)

type stopRecord struct {
	ID            string  `csv:"stop_id"`
	Code          string  `csv:"stop_code"`
	Name          string  `csv:"stop_name"`
	Lat           float64 `csv:"stop_lat"`
	Lon           float64 `csv:"stop_lon"`
	LocationType  int8    `csv:"location_type"`
	ParentStation string  `csv:"parent_station"`
}

// stop_name, stop_lat and stop_lon are "[o]ptional for locations
// which are generic nodes (location_type=3) or boarding areas
// (location_type=4)" and otherwise required.
func (s *stopRecord) validate() error {
	locationType := model.LocationType(s.LocationType)
	if locationType < model.LocationTypeStop || locationType > model.LocationTypeBoardingArea {
		return fmt.Errorf("invalid location_type %d for stop_id '%s'", s.LocationType, s.ID)
	}
	if locationType == model.LocationTypeGenericNode || locationType == model.LocationTypeBoardingArea {
		return nil
	}
	if s.Name == "" {
		return fmt.Errorf("empty stop_name for stop_id '%s'", s.ID)
	}
	if s.Lat == 0 || s.Lon == 0 {
		return fmt.Errorf("empty stop_lat or stop_lon for stop_id '%s'", s.ID)
	}
	if s.Lat < -90 || s.Lat > 90 || s.Lon < -180 || s.Lon > 180 {
		return fmt.Errorf("stop_id '%s' is out of range (%f, %f)", s.ID, s.Lat, s.Lon)
	}
	return nil
}

func (im *importer) readStops(data io.Reader) error {
	parentRef := map[string]string{}

	err := eachRow(stopsFile, data, func(st *stopRecord) error {
		if st.ID == "" {
			return fmt.Errorf("empty stop_id")
		}
		if im.stops[st.ID] {
			return fmt.Errorf("repeated stop_id '%s'", st.ID)
		}
		im.stops[st.ID] = true
		im.meta.NumStops++

		if err := st.validate(); err != nil {
			return err
		}

		if st.ParentStation != "" {
			parentRef[st.ID] = st.ParentStation
		}

		if err := im.writer.WriteStop(&model.Stop{
			ID:            st.ID,
			Code:          st.Code,
			Name:          st.Name,
			Lat:           st.Lat,
			Lon:           st.Lon,
			LocationType:  model.LocationType(st.LocationType),
			ParentStation: st.ParentStation,
		}); err != nil {
			return fmt.Errorf("writing stop '%s': %w", st.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Parents may appear after their children
	for stopID, parentID := range parentRef {
		if !im.stops[parentID] {
			return fmt.Errorf("stop '%s' references unknown parent_station '%s'", stopID, parentID)
		}
	}

	return nil
}
