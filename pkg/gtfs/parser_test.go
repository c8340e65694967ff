package gtfs

import (
	"archive/zip"
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildArchive(t *testing.T, files map[string][]string) *Archive {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, lines := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(lines, "\n")))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	archive, err := OpenArchive(buf.Bytes())
	require.NoError(t, err)
	return archive
}

func minimalFiles() map[string][]string {
	return map[string][]string{
		"agency.txt": {
			"agency_id,agency_name,agency_url,agency_timezone,agency_lang",
			"1,MVG,https://mvg.de,Europe/Berlin,de",
			"2,NoLang,https://example.com,Europe/Berlin,",
		},
		"stops.txt": {
			"\ufeffstop_id,stop_name,stop_lat,stop_lon,parent_station,platform_code",
			"100,Marienplatz,48.137,11.575,,",
			"101,Marienplatz Gleis 1,48.137,11.575,100,1",
			"de:09162:6,Textual,48.1,11.5,,",
		},
		"routes.txt": {
			"route_id,agency_id,route_short_name,route_long_name,route_type",
			"10,1,U3,,1",
		},
		"trips.txt": {
			"route_id,service_id,trip_id",
			"10,5,1000",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence,pickup_type",
			"1000,8:05:00,8:06:00,101,1,0",
			"1000,25:10:00,25:10:30,100,2,",
		},
		"calendar.txt": {
			"service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date",
			"5,1,1,1,1,1,0,0,20240101,20241231",
		},
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"5,20240501,2",
		},
	}
}

func TestParse(t *testing.T) {
	archive := buildArchive(t, minimalFiles())
	p := NewParser(slog.New(slog.NewTextHandler(io.Discard, nil)))

	feed, err := p.Parse(archive.Reader)
	require.NoError(t, err)

	require.Len(t, feed.Agencies, 2)
	require.NotNil(t, feed.Agencies[0].Lang)
	assert.Equal(t, "de", *feed.Agencies[0].Lang)
	assert.Nil(t, feed.Agencies[1].Lang)

	require.Len(t, feed.Stops, 2)
	assert.Equal(t, int64(100), feed.Stops[0].ID)
	assert.Nil(t, feed.Stops[0].ParentStation)
	require.NotNil(t, feed.Stops[1].ParentStation)
	assert.Equal(t, int64(100), *feed.Stops[1].ParentStation)
	assert.Equal(t, 1, feed.Skipped["stops.txt"])

	require.Len(t, feed.StopTimes, 2)
	assert.Equal(t, "08:06:00", feed.StopTimes[0].DepartureTime)
	assert.Equal(t, "25:10:30", feed.StopTimes[1].DepartureTime)
	require.NotNil(t, feed.StopTimes[0].PickupType)
	assert.Nil(t, feed.StopTimes[1].PickupType)

	require.Len(t, feed.Calendars, 1)
	assert.True(t, feed.Calendars[0].Friday)
	assert.False(t, feed.Calendars[0].Saturday)
	require.Len(t, feed.CalendarDates, 1)
	assert.Equal(t, 2, feed.CalendarDates[0].ExceptionType)
}

func TestParseMissingRequiredFile(t *testing.T) {
	files := minimalFiles()
	delete(files, "stop_times.txt")
	archive := buildArchive(t, files)

	_, err := NewParser(slog.New(slog.NewTextHandler(io.Discard, nil))).Parse(archive.Reader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop_times.txt")
}

func TestNormalizeTime(t *testing.T) {
	tests := map[string]string{
		"8:05:00":  "08:05:00",
		"08:05:00": "08:05:00",
		"25:1:9":   "25:01:09",
		"garbage":  "garbage",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeTime(in), in)
	}
}

func TestDataFingerprintStable(t *testing.T) {
	a := DataFingerprint([]byte("abc"))
	assert.Equal(t, a, DataFingerprint([]byte("abc")))
	assert.NotEqual(t, a, DataFingerprint([]byte("abd")))
	assert.Len(t, a, 64)
}
