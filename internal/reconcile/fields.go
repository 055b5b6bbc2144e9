package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// Row is one inbound record keyed by canonical field name. Values are raw
// cell contents (string, number, bool or time.Time); nil, blank strings
// and NaN are treated as absent.
type Row map[string]any

// Canonical field keys accepted in a Row.
const (
	FieldLocationID          = "location_id"
	FieldRiskLevel           = "risk_level"
	FieldHistoryDates        = "inspection_history_dates"
	FieldHistoryMeasurements = "inspection_history_measurements"
	FieldTechnique           = "inspection_technique"
)

// FieldKeys lists every canonical key the reconciler understands.
var FieldKeys = []string{
	FieldLocationID,
	"line_id", "equipment_id", "facility", "system", "commodity",
	"material_type", "feature_type", "cml_shape", "isometric_id", FieldTechnique,
	"design_thickness_mm", "min_allowable_thickness_mm", "corrosion_allowance_mm",
	"current_thickness_mm", "average_corrosion_rate", "remaining_life_years",
	"years_in_service", "number_of_inspections",
	"first_inspection_date", "last_inspection_date",
	"data_quality_score", FieldRiskLevel,
	"elimination_candidate", "requires_review",
	FieldHistoryDates, FieldHistoryMeasurements, "notes",
}

// setter applies one parsed value to a location.
type setter func(loc *model.MonitoringLocation)

// patch is the validated, typed form of a Row.
type patch struct {
	id       string
	setters  []setter
	readings []model.ThicknessReading

	// lifeGiven is set when the row carries remaining_life_years;
	// lifeInputs when it changes a value remaining life is derived from.
	lifeGiven  bool
	lifeInputs bool
}

func (p *patch) apply(loc *model.MonitoringLocation) {
	for _, set := range p.setters {
		set(loc)
	}
}

// buildPatch validates every present value of row. Keys are visited in
// sorted order so the reported failure is deterministic.
func buildPatch(index int, row Row) (*patch, error) {
	id := strings.TrimSpace(toString(row[FieldLocationID]))
	if absent(row[FieldLocationID]) || id == "" {
		return nil, model.NewRowError(index, FieldLocationID, "", nil, "missing location_id")
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := &patch{id: id}
	for _, key := range keys {
		v := row[key]
		if key == FieldLocationID || absent(v) {
			continue
		}
		set, err := parseField(key, v)
		if err != nil {
			return nil, rowError(index, key, v, err)
		}
		if set != nil {
			p.setters = append(p.setters, set)
		}
		switch key {
		case "remaining_life_years":
			p.lifeGiven = true
		case "current_thickness_mm", "min_allowable_thickness_mm", "average_corrosion_rate":
			p.lifeInputs = true
		}
	}

	readings, err := parseHistory(id, row)
	if err != nil {
		return nil, rowError(index, FieldHistoryDates, row[FieldHistoryDates], err)
	}
	p.readings = readings
	return p, nil
}

func rowError(index int, key string, v any, err error) error {
	raw := toString(v)
	var rerr *model.RowError
	if errors.As(err, &rerr) {
		rerr.Index = index
		return rerr
	}
	if errors.Is(err, model.ErrUnknownCategory) {
		return model.NewRowError(index, key, raw, err, "unknown %s value %q", key, raw)
	}
	return model.NewRowError(index, key, raw, err, "invalid %s %q: %v", key, raw, err)
}

// parseField maps a raw value to a setter for the corresponding location
// field. Unknown keys are ignored.
func parseField(key string, v any) (setter, error) {
	switch key {
	case "line_id":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.LineID }), nil
	case "equipment_id":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.EquipmentID }), nil
	case "facility":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.Facility }), nil
	case "system":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.System }), nil
	case "commodity":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.Commodity }), nil
	case "material_type":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.MaterialType }), nil
	case "feature_type":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.FeatureType }), nil
	case "cml_shape":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.CMLShape }), nil
	case "isometric_id":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.IsometricID }), nil
	case FieldTechnique:
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.InspectionTechnique }), nil
	case "notes":
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.Notes }), nil
	case FieldHistoryDates:
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.InspectionHistoryDates }), nil
	case FieldHistoryMeasurements:
		return stringSetter(v, func(l *model.MonitoringLocation) **string { return &l.InspectionHistoryMeasurements }), nil

	case "design_thickness_mm":
		return floatSetter(v, true, func(l *model.MonitoringLocation) **float64 { return &l.DesignThicknessMM })
	case "min_allowable_thickness_mm":
		return floatSetter(v, true, func(l *model.MonitoringLocation) **float64 { return &l.MinAllowableThicknessMM })
	case "corrosion_allowance_mm":
		return floatSetter(v, true, func(l *model.MonitoringLocation) **float64 { return &l.CorrosionAllowanceMM })
	case "current_thickness_mm":
		return floatSetter(v, true, func(l *model.MonitoringLocation) **float64 { return &l.CurrentThicknessMM })
	case "average_corrosion_rate":
		return floatSetter(v, false, func(l *model.MonitoringLocation) **float64 { return &l.AverageCorrosionRate })
	case "remaining_life_years":
		return floatSetter(v, false, func(l *model.MonitoringLocation) **float64 { return &l.RemainingLifeYears })
	case "data_quality_score":
		return floatSetter(v, true, func(l *model.MonitoringLocation) **float64 { return &l.DataQualityScore })

	case "years_in_service":
		return intSetter(v, func(l *model.MonitoringLocation) **int { return &l.YearsInService })
	case "number_of_inspections":
		return intSetter(v, func(l *model.MonitoringLocation) **int { return &l.NumberOfInspections })

	case "first_inspection_date":
		return dateSetter(v, func(l *model.MonitoringLocation) **time.Time { return &l.FirstInspectionDate })
	case "last_inspection_date":
		return dateSetter(v, func(l *model.MonitoringLocation) **time.Time { return &l.LastInspectionDate })

	case FieldRiskLevel:
		rc, err := model.ParseRiskCategory(toString(v))
		if err != nil {
			return nil, err
		}
		return func(l *model.MonitoringLocation) { l.RiskCategory = rc }, nil

	// Uploaded decision flags are historical labels. They only land on
	// locations the scorer has not touched yet.
	case "elimination_candidate":
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return func(l *model.MonitoringLocation) {
			if l.State() == model.StateUnscored {
				l.EliminationCandidate = b
			}
		}, nil
	case "requires_review":
		b, err := toBool(v)
		if err != nil {
			return nil, err
		}
		return func(l *model.MonitoringLocation) {
			if l.State() == model.StateUnscored {
				l.RequiresReview = b
			}
		}, nil

	default:
		zap.L().Debug("reconcile: unmapped field key", zap.String("key", key))
		return nil, nil
	}
}

func stringSetter(v any, ref func(*model.MonitoringLocation) **string) setter {
	s := strings.TrimSpace(toString(v))
	return func(l *model.MonitoringLocation) { *ref(l) = &s }
}

func floatSetter(v any, nonNegative bool, ref func(*model.MonitoringLocation) **float64) (setter, error) {
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	if nonNegative && f < 0 {
		return nil, errors.New("must be >= 0")
	}
	return func(l *model.MonitoringLocation) { *ref(l) = &f }, nil
}

func intSetter(v any, ref func(*model.MonitoringLocation) **int) (setter, error) {
	n, err := toInt(v)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errors.New("must be >= 0")
	}
	return func(l *model.MonitoringLocation) { *ref(l) = &n }, nil
}

func dateSetter(v any, ref func(*model.MonitoringLocation) **time.Time) (setter, error) {
	t, err := toDate(v)
	if err != nil {
		return nil, err
	}
	return func(l *model.MonitoringLocation) { *ref(l) = &t }, nil
}

// --- raw value coercion ---

func absent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(x)
		return s == "" || cases.Fold().String(s) == "nan"
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	}
	return false
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(dateLayout)
	default:
		return fmt.Sprint(x)
	}
}

func toFloat(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return 0, errors.New("not a number")
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, errors.New("not a number")
		}
		f = n
	default:
		return 0, errors.New("not a number")
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, errors.New("not an integer")
	}
	if f != math.Trunc(f) {
		return 0, errors.New("not an integer")
	}
	return int(f), nil
}

// Date layouts accepted for string cells, most specific first.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	dateLayout,
	"2006/01/02",
	"01/02/2006",
}

const dateLayout = "2006-01-02"

func toDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return truncateDate(x), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return truncateDate(t), nil
			}
		}
	}
	return time.Time{}, errors.New("not a date")
}

func truncateDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch cases.Fold().String(strings.TrimSpace(x)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
	default:
		if f, err := toFloat(v); err == nil && (f == 0 || f == 1) {
			return f == 1, nil
		}
	}
	return false, errors.New("not a boolean")
}
