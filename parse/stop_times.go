package parse

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"tidbyt.dev/transitrt/model"
)

type stopTimeRecord struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  uint32 `csv:"stop_sequence"`
	ArrivalTime   string `csv:"arrival_time"`
	DepartureTime string `csv:"departure_time"`
}

// Parses "HH:MM:SS" into seconds after midnight. Hours may exceed 23
// for trips running past midnight. A single digit hour is accepted.
func parseStopTimeTime(s string) (int32, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	var hms [3]int
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	switch {
	case hms[0] < 0 || hms[0] > 99:
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	case hms[1] < 0 || hms[1] > 59:
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	case hms[2] < 0 || hms[2] > 59:
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return int32(hms[0]*3600 + hms[1]*60 + hms[2]), nil
}

// Arrival and departure of a stop time. Either may be omitted, in
// which case it equals the other. Timetables need a time at every
// stop, so omitting both is an error.
func (st *stopTimeRecord) times() (int32, int32, error) {
	if strings.TrimSpace(st.ArrivalTime) == "" {
		st.ArrivalTime = st.DepartureTime
	}
	if strings.TrimSpace(st.DepartureTime) == "" {
		st.DepartureTime = st.ArrivalTime
	}
	if strings.TrimSpace(st.ArrivalTime) == "" {
		return 0, 0, fmt.Errorf("no arrival_time or departure_time")
	}

	arrival, err := parseStopTimeTime(st.ArrivalTime)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parsing arrival_time")
	}
	departure, err := parseStopTimeTime(st.DepartureTime)
	if err != nil {
		return 0, 0, errors.Wrap(err, "parsing departure_time")
	}
	if departure < arrival {
		return 0, 0, fmt.Errorf("departure_time before arrival_time")
	}

	return arrival, departure, nil
}

func (im *importer) readStopTimes(data io.Reader) error {
	if err := im.writer.BeginStopTimes(); err != nil {
		return errors.Wrap(err, "beginning stop_times")
	}

	err := eachRow(stopTimesFile, data, func(st *stopTimeRecord) error {
		if !im.trips[st.TripID] {
			return fmt.Errorf("unknown trip_id: '%s'", st.TripID)
		}
		if st.StopID == "" {
			return fmt.Errorf("missing stop_id")
		}
		if !im.stops[st.StopID] {
			return fmt.Errorf("unknown stop_id: '%s'", st.StopID)
		}

		arrival, departure, err := st.times()
		if err != nil {
			return err
		}

		// stop_sequence must be unique for each trip
		seqs := im.sequences[st.TripID]
		if seqs == nil {
			seqs = map[uint32]bool{}
			im.sequences[st.TripID] = seqs
		}
		if seqs[st.StopSequence] {
			return fmt.Errorf("duplicate stop_sequence %d for trip_id '%s'", st.StopSequence, st.TripID)
		}
		seqs[st.StopSequence] = true

		im.meta.MaxArrival = max(im.meta.MaxArrival, arrival)
		im.meta.MaxDeparture = max(im.meta.MaxDeparture, departure)
		im.meta.NumStopTimes++

		err = im.writer.WriteStopTime(&model.StopTime{
			TripID:       st.TripID,
			StopID:       st.StopID,
			StopSequence: st.StopSequence,
			Arrival:      arrival,
			Departure:    departure,
		})
		return errors.Wrap(err, "writing stop_time")
	})
	if err != nil {
		return err
	}

	return errors.Wrap(im.writer.EndStopTimes(), "ending stop_times")
}
