package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/model"
)

const historySeparator = "|"

// parseHistory turns the pipe-delimited date and measurement pair of a row
// into thickness readings. Both lists must be present together and have
// the same length. Identical (date, thickness) entries collapse into one.
func parseHistory(id string, row Row) ([]model.ThicknessReading, error) {
	datesRaw, measRaw := row[FieldHistoryDates], row[FieldHistoryMeasurements]
	hasDates, hasMeas := !absent(datesRaw), !absent(measRaw)
	if !hasDates && !hasMeas {
		return nil, nil
	}
	if hasDates != hasMeas {
		return nil, errors.New("history dates and measurements must be supplied together")
	}

	dates := splitHistory(toString(datesRaw))
	meas := splitHistory(toString(measRaw))
	if len(dates) != len(meas) {
		return nil, fmt.Errorf("%d history dates but %d measurements", len(dates), len(meas))
	}

	technique := ""
	if v := row[FieldTechnique]; !absent(v) {
		technique = strings.TrimSpace(toString(v))
	}

	type key struct {
		date time.Time
		mm   float64
	}
	seen := make(map[key]bool, len(dates))
	perDate := make(map[time.Time]int, len(dates))

	readings := make([]model.ThicknessReading, 0, len(dates))
	for i := range dates {
		d, err := time.Parse(dateLayout, dates[i])
		if err != nil {
			return nil, fmt.Errorf("history date %q is not YYYY-MM-DD", dates[i])
		}
		mm, err := strconv.ParseFloat(meas[i], 64)
		if err != nil || mm < 0 {
			return nil, fmt.Errorf("history measurement %q is not a non-negative number", meas[i])
		}

		k := key{date: d, mm: mm}
		if seen[k] {
			continue
		}
		seen[k] = true
		perDate[d]++
		readings = append(readings, model.ThicknessReading{
			LocationID:  id,
			Date:        d,
			ThicknessMM: mm,
			Technique:   technique,
		})
	}

	for d, n := range perDate {
		if n > 1 {
			zap.L().Warn("reconcile: conflicting readings on the same date",
				zap.String("location_id", id),
				zap.String("date", d.Format(dateLayout)),
				zap.Int("readings", n),
			)
		}
	}

	sort.Slice(readings, func(i, j int) bool {
		return readings[i].Date.Before(readings[j].Date)
	})
	return readings, nil
}

func splitHistory(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, historySeparator)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
