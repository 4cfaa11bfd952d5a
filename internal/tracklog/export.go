package tracklog

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// ExportZip renders the fixes as a zip archive containing track.csv,
// suitable for streaming as an HTTP download.
func ExportZip(fixes []Fix) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	trackFile, err := w.Create("track.csv")
	if err != nil {
		return nil, fmt.Errorf("create track.csv: %w", err)
	}
	body, err := trackCSV(fixes)
	if err != nil {
		return nil, err
	}
	if _, err := trackFile.Write(body); err != nil {
		return nil, fmt.Errorf("write track.csv: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf, nil
}

func trackCSV(fixes []Fix) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{"time_utc", "lat_deg", "lon_deg", "alt_m", "speed_kt", "track_deg", "fix_quality", "sats_used", "hdop"}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, f := range fixes {
		row := []string{
			f.TimeUTC.UTC().Format(time.RFC3339Nano),
			strconv.FormatFloat(f.LatDeg, 'f', 7, 64),
			strconv.FormatFloat(f.LonDeg, 'f', 7, 64),
			optFloat(f.AltMeters, 1),
			optFloat(f.SpeedKt, 1),
			optFloat(f.TrackDeg, 1),
			optInt(f.FixQuality),
			optInt(f.SatsUsed),
			optFloat(f.HDOP, 2),
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
