package parse

import (
	"fmt"
	"io"

	"tidbyt.dev/transitrt/model"
)

type calendarDateRecord struct {
	ServiceID     string `csv:"service_id"`
	Date          string `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

func (im *importer) readCalendarDates(data io.Reader) error {
	type serviceDate struct{ service, date string }
	seen := map[serviceDate]bool{}

	return eachRow(calendarDatesFile, data, func(cd *calendarDateRecord) error {
		exception := model.ExceptionType(cd.ExceptionType)
		if exception != model.ExceptionTypeAdded && exception != model.ExceptionTypeRemoved {
			return fmt.Errorf("illegal exception_type: '%d'", cd.ExceptionType)
		}

		if _, err := model.ParseServiceDate(cd.Date); err != nil {
			return err
		}

		key := serviceDate{cd.ServiceID, cd.Date}
		if seen[key] {
			return fmt.Errorf("duplicate service/date: '%s-%s'", cd.Date, cd.ServiceID)
		}
		seen[key] = true
		im.services[cd.ServiceID] = true

		im.coverDates(cd.Date, cd.Date)

		if err := im.writer.WriteCalendarDate(&model.CalendarDate{
			ServiceID:     cd.ServiceID,
			Date:          cd.Date,
			ExceptionType: exception,
		}); err != nil {
			return fmt.Errorf("writing calendar date: %w", err)
		}
		return nil
	})
}
