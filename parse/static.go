package parse

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"tidbyt.dev/transitrt/storage"
)

// Key information about a parsed static feed.
type StaticMetadata struct {
	Timezone          string
	CalendarStartDate string
	CalendarEndDate   string

	// Seconds after midnight.
	MaxArrival   int32
	MaxDeparture int32

	NumRoutes    int
	NumStops     int
	NumTrips     int
	NumStopTimes int
}

const (
	agencyFile        = "agency.txt"
	routesFile        = "routes.txt"
	calendarFile      = "calendar.txt"
	calendarDatesFile = "calendar_dates.txt"
	stopsFile         = "stops.txt"
	tripsFile         = "trips.txt"
	stopTimesFile     = "stop_times.txt"
)

// Files read from static archives, in the order they're imported.
// Later files reference IDs from earlier ones.
var staticFiles = []struct {
	name     string
	required bool
	read     func(*importer, io.Reader) error
}{
	{agencyFile, true, (*importer).readAgencies},
	{routesFile, true, (*importer).readRoutes},
	{calendarFile, false, (*importer).readCalendar},
	{calendarDatesFile, false, (*importer).readCalendarDates},
	{stopsFile, true, (*importer).readStops},
	{tripsFile, true, (*importer).readTrips},
	{stopTimesFile, true, (*importer).readStopTimes},
}

// Cross-file state of one import.
type importer struct {
	writer storage.FeedWriter
	meta   StaticMetadata

	agencies map[string]bool
	routes   map[string]bool
	services map[string]bool
	stops    map[string]bool
	trips    map[string]bool

	// stop_sequence values seen per trip
	sequences map[string]map[uint32]bool
}

func newImporter(writer storage.FeedWriter) *importer {
	return &importer{
		writer:    writer,
		agencies:  map[string]bool{},
		routes:    map[string]bool{},
		services:  map[string]bool{},
		stops:     map[string]bool{},
		trips:     map[string]bool{},
		sequences: map[string]map[uint32]bool{},
	}
}

// Widens the feed's calendar window to include [start, end].
func (im *importer) coverDates(start, end string) {
	if im.meta.CalendarStartDate == "" || start < im.meta.CalendarStartDate {
		im.meta.CalendarStartDate = start
	}
	if im.meta.CalendarEndDate == "" || end > im.meta.CalendarEndDate {
		im.meta.CalendarEndDate = end
	}
}

// Parses a static GTFS zip archive into writer. The caller closes the
// writer.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*StaticMetadata, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	// There should not be any subdirectories. But, some agencies
	// don't care, so files are matched on base name.
	archived := map[string]*zip.File{}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		archived[f.Name[strings.LastIndex(f.Name, "/")+1:]] = f
	}

	if archived[calendarFile] == nil && archived[calendarDatesFile] == nil {
		return nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}
	for _, sf := range staticFiles {
		if sf.required && archived[sf.name] == nil {
			return nil, fmt.Errorf("missing %s", sf.name)
		}
	}

	im := newImporter(writer)

	for _, sf := range staticFiles {
		f := archived[sf.name]
		if f == nil {
			continue
		}
		if err := im.importFile(f, sf.read); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", sf.name, err)
		}
	}

	return &im.meta, nil
}

func (im *importer) importFile(f *zip.File, read func(*importer, io.Reader) error) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening: %w", err)
	}
	defer rc.Close()

	return read(im, rc)
}
