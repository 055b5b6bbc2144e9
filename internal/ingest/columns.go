// Package ingest reads tabular location files (xlsx, csv) into reconciler
// rows.
package ingest

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cml-optimizer/internal/reconcile"
)

// ColumnMap maps file header names to canonical row keys.
type ColumnMap map[string]string

// DefaultColumnMap returns the mapping for the master data workbook.
func DefaultColumnMap() ColumnMap {
	return ColumnMap{
		"CML_ID":                             reconcile.FieldLocationID,
		"Line_ID":                            "line_id",
		"Equipment_ID":                       "equipment_id",
		"Facility":                           "facility",
		"System":                             "system",
		"Commodity":                          "commodity",
		"Material_Type":                      "material_type",
		"Feature_Type":                       "feature_type",
		"CML_Shape":                          "cml_shape",
		"Design_Thickness_mm":                "design_thickness_mm",
		"Min_Allowable_Thickness_mm":         "min_allowable_thickness_mm",
		"Corrosion_Allowance_mm":             "corrosion_allowance_mm",
		"Current_Thickness_mm":               "current_thickness_mm",
		"Average_Corrosion_Rate_mm_per_year": "average_corrosion_rate",
		"Years_In_Service":                   "years_in_service",
		"Number_of_Inspections":              "number_of_inspections",
		"Last_Inspection_Date":               "last_inspection_date",
		"First_Inspection_Date":              "first_inspection_date",
		"Remaining_Life_Years":               "remaining_life_years",
		"Risk_Level":                         reconcile.FieldRiskLevel,
		"Isometric_ID":                       "isometric_id",
		"Inspection_Technique":               reconcile.FieldTechnique,
		"Data_Quality_Score":                 "data_quality_score",
		"Elimination_Candidate":              "elimination_candidate",
		"Requires_Engineering_Review":        "requires_review",
		"Inspection_History_Dates":           reconcile.FieldHistoryDates,
		"Inspection_History_Measurements":    reconcile.FieldHistoryMeasurements,
		"Notes":                              "notes",
	}
}

// LoadColumnMap reads a YAML header→key mapping from path and merges it
// over the default map. An empty path returns the default map.
func LoadColumnMap(path string) (ColumnMap, error) {
	m := DefaultColumnMap()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read column map %s", path)
	}
	var extra map[string]string
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse column map %s", path)
	}
	for header, key := range extra {
		if strings.TrimSpace(key) == "" {
			delete(m, header)
			continue
		}
		m[header] = key
	}
	return m, nil
}

// Resolve returns the canonical key for each header, or "" for headers
// the map does not know. Matching ignores case and surrounding space.
func (m ColumnMap) Resolve(headers []string) []string {
	folded := make(map[string]string, len(m))
	for header, key := range m {
		folded[foldHeader(header)] = key
	}
	keys := make([]string, len(headers))
	for i, h := range headers {
		keys[i] = folded[foldHeader(h)]
	}
	return keys
}

func foldHeader(h string) string {
	return cases.Fold().String(strings.TrimSpace(h))
}

// buildRow zips resolved keys with cell values. Unmapped columns and
// absent cells are skipped.
func buildRow(keys []string, cells []any) reconcile.Row {
	row := make(reconcile.Row, len(keys))
	for i, key := range keys {
		if key == "" || i >= len(cells) || cells[i] == nil {
			continue
		}
		row[key] = cells[i]
	}
	return row
}

func isBlank(cells []any) bool {
	for _, c := range cells {
		switch v := c.(type) {
		case nil:
		case string:
			if strings.TrimSpace(v) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
