package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/transitrt/model"
)

func TestReadAgencies(t *testing.T) {
	for _, tc := range []struct {
		name     string
		content  string
		err      bool
		timezone string
		agencies []*model.Agency
	}{
		{
			name: "minimal",
			content: `
agency_timezone,agency_name,agency_url
America/New_York,Agency,http://a`,
			timezone: "America/New_York",
			agencies: []*model.Agency{{Timezone: "America/New_York", Name: "Agency", URL: "http://a"}},
		},
		{
			name: "multiple agencies sharing timezone",
			content: `
agency_id,agency_timezone,agency_name,agency_url
a1,Europe/Stockholm,SL,http://sl
a2,Europe/Stockholm,UL,http://ul`,
			timezone: "Europe/Stockholm",
			agencies: []*model.Agency{
				{ID: "a1", Timezone: "Europe/Stockholm", Name: "SL", URL: "http://sl"},
				{ID: "a2", Timezone: "Europe/Stockholm", Name: "UL", URL: "http://ul"},
			},
		},
		{
			name: "conflicting timezones",
			content: `
agency_id,agency_timezone,agency_name,agency_url
a1,Europe/Stockholm,SL,http://sl
a2,America/New_York,MTA,http://mta`,
			err: true,
		},
		{
			name: "invalid timezone",
			content: `
agency_timezone,agency_name,agency_url
Mars/Olympus_Mons,Agency,http://a`,
			err: true,
		},
		{
			name: "repeated agency_id",
			content: `
agency_id,agency_timezone,agency_name,agency_url
a1,Europe/Stockholm,SL,http://sl
a1,Europe/Stockholm,SL,http://sl`,
			err: true,
		},
		{
			name: "missing name",
			content: `
agency_timezone,agency_name,agency_url
America/New_York,,http://a`,
			err: true,
		},
		{
			name: "missing url",
			content: `
agency_timezone,agency_name,agency_url
America/New_York,Agency,`,
			err: true,
		},
		{
			name:    "no records",
			content: `agency_timezone,agency_name,agency_url`,
			err:     true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reader, im, err := importFile(t, (*importer).readAgencies, tc.content, nil)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.timezone, im.meta.Timezone)

			agencies, err := reader.Agencies()
			require.NoError(t, err)
			assert.Equal(t, tc.agencies, agencies)
		})
	}
}
