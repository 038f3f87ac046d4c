package parse

import (
	"fmt"
	"io"
	"time"

	"tidbyt.dev/transitrt/model"
)

type calendarRecord struct {
	ServiceID string `csv:"service_id"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

// Bitmask of active weekdays, bit n set for time.Weekday(n).
func (c *calendarRecord) weekdays() (int8, error) {
	var mask int8
	for _, d := range []struct {
		column string
		day    time.Weekday
		value  int8
	}{
		{"monday", time.Monday, c.Monday},
		{"tuesday", time.Tuesday, c.Tuesday},
		{"wednesday", time.Wednesday, c.Wednesday},
		{"thursday", time.Thursday, c.Thursday},
		{"friday", time.Friday, c.Friday},
		{"saturday", time.Saturday, c.Saturday},
		{"sunday", time.Sunday, c.Sunday},
	} {
		active, err := flag(d.column, d.value)
		if err != nil {
			return 0, err
		}
		if active {
			mask |= 1 << d.day
		}
	}
	return mask, nil
}

func (im *importer) readCalendar(data io.Reader) error {
	seen := map[string]bool{}

	return eachRow(calendarFile, data, func(c *calendarRecord) error {
		if c.ServiceID == "" {
			return fmt.Errorf("empty service_id")
		}
		if seen[c.ServiceID] {
			return fmt.Errorf("repeated service_id '%s'", c.ServiceID)
		}
		seen[c.ServiceID] = true
		im.services[c.ServiceID] = true

		weekday, err := c.weekdays()
		if err != nil {
			return err
		}

		if _, err := model.ParseServiceDate(c.StartDate); err != nil {
			return fmt.Errorf("parsing start_date: %w", err)
		}
		if _, err := model.ParseServiceDate(c.EndDate); err != nil {
			return fmt.Errorf("parsing end_date: %w", err)
		}
		if c.EndDate < c.StartDate {
			return fmt.Errorf("end_date %s before start_date %s", c.EndDate, c.StartDate)
		}
		im.coverDates(c.StartDate, c.EndDate)

		if err := im.writer.WriteCalendar(&model.Calendar{
			ServiceID: c.ServiceID,
			StartDate: c.StartDate,
			EndDate:   c.EndDate,
			Weekday:   weekday,
		}); err != nil {
			return fmt.Errorf("writing calendar: %w", err)
		}
		return nil
	})
}
