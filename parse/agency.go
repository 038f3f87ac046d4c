package parse

import (
	"fmt"
	"io"
	"time"

	"tidbyt.dev/transitrt/model"
)

type agencyRecord struct {
	ID       string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
}

func (im *importer) readAgencies(data io.Reader) error {
	err := eachRow(agencyFile, data, func(a *agencyRecord) error {
		if im.agencies[a.ID] {
			return fmt.Errorf("duplicated agency_id: '%s'", a.ID)
		}
		im.agencies[a.ID] = true

		if a.Name == "" {
			return fmt.Errorf("missing agency_name")
		}
		if a.URL == "" {
			return fmt.Errorf("missing agency_url")
		}

		// "If multiple agencies are specified in the dataset,
		// each must have the same agency_timezone."
		if a.Timezone == "" {
			return fmt.Errorf("missing agency_timezone")
		}
		if im.meta.Timezone == "" {
			if _, err := time.LoadLocation(a.Timezone); err != nil {
				return fmt.Errorf("agency_timezone '%s' is invalid: %w", a.Timezone, err)
			}
			im.meta.Timezone = a.Timezone
		} else if a.Timezone != im.meta.Timezone {
			return fmt.Errorf("multiple agency_timezone")
		}

		if err := im.writer.WriteAgency(&model.Agency{
			ID:       a.ID,
			Name:     a.Name,
			URL:      a.URL,
			Timezone: a.Timezone,
		}); err != nil {
			return fmt.Errorf("writing agency: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(im.agencies) == 0 {
		return fmt.Errorf("no agency record found")
	}

	return nil
}
