package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/model"
)

const dateLayout = "2006-01-02"

// locationRow is the indexed projection of a location persisted next to
// its JSON record.
type locationRow struct {
	ID        string
	Facility  string
	System    string
	Commodity string
	Risk      string
	Eliminate bool
	Review    bool
	Record    []byte
	CreatedAt int64
	UpdatedAt int64
}

func toLocationRow(loc *model.MonitoringLocation) (locationRow, error) {
	raw, err := json.Marshal(loc)
	if err != nil {
		return locationRow{}, eris.Wrapf(err, "store: marshal location %s", loc.LocationID)
	}
	return locationRow{
		ID:        loc.LocationID,
		Facility:  model.Str(loc.Facility),
		System:    model.Str(loc.System),
		Commodity: model.Str(loc.Commodity),
		Risk:      string(loc.RiskCategory),
		Eliminate: loc.EliminationCandidate,
		Review:    loc.RequiresReview,
		Record:    raw,
		CreatedAt: loc.CreatedAt.UnixNano(),
		UpdatedAt: loc.UpdatedAt.UnixNano(),
	}, nil
}

func decodeLocation(raw []byte) (*model.MonitoringLocation, error) {
	var loc model.MonitoringLocation
	if err := json.Unmarshal(raw, &loc); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal location")
	}
	return &loc, nil
}

// prepareLocation stamps bookkeeping fields after an UpdateFunc ran.
func prepareLocation(loc *model.MonitoringLocation, id string, exists bool, now time.Time) {
	loc.LocationID = id
	if !exists || loc.CreatedAt.IsZero() {
		loc.CreatedAt = now
	}
	loc.UpdatedAt = now
}

func unixTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	return t, eris.Wrapf(err, "store: parse date %q", s)
}

func nullableDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}
