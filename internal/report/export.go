package report

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/cml-optimizer/internal/model"
)

// ExportSheet is the sheet name of the xlsx export.
const ExportSheet = "CML Data"

// ExportColumns is the header row of the xlsx export.
var ExportColumns = []string{
	"CML ID", "Facility", "System", "Commodity", "Material", "Feature Type",
	"Current Thickness (mm)", "Min Allowable (mm)", "Corrosion Rate (mm/yr)",
	"Remaining Life (years)", "Risk Level", "Elimination Candidate",
	"ML Probability", "ML Confidence", "SME Override", "SME Decision",
	"Last Inspection",
}

// WriteXLSX writes one row per location to w as an xlsx workbook.
// Unset values are left as empty cells.
func WriteXLSX(w io.Writer, locs []model.MonitoringLocation) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(ExportSheet)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range ExportColumns {
		header.AddCell().SetString(h)
	}

	for i := range locs {
		l := &locs[i]
		row := sheet.AddRow()
		addString(row, l.LocationID)
		addString(row, model.Str(l.Facility))
		addString(row, model.Str(l.System))
		addString(row, model.Str(l.Commodity))
		addString(row, model.Str(l.MaterialType))
		addString(row, model.Str(l.FeatureType))
		addFloat(row, l.CurrentThicknessMM)
		addFloat(row, l.MinAllowableThicknessMM)
		addFloat(row, l.AverageCorrosionRate)
		addFloat(row, l.RemainingLifeYears)
		addString(row, string(l.RiskCategory))
		addString(row, yesNo(l.EliminationCandidate))
		if l.Prediction != nil {
			row.AddCell().SetFloat(l.Prediction.Probability)
			row.AddCell().SetFloat(l.Prediction.Confidence)
		} else {
			row.AddCell()
			row.AddCell()
		}
		addString(row, yesNo(l.Override != nil))
		if l.Override != nil {
			addString(row, string(l.Override.Decision))
		} else {
			row.AddCell()
		}
		if l.LastInspectionDate != nil {
			addString(row, l.LastInspectionDate.Format("2006-01-02"))
		} else {
			row.AddCell()
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

func addString(row *xlsx.Row, v string) {
	c := row.AddCell()
	if v != "" {
		c.SetString(v)
	}
}

func addFloat(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v != nil {
		c.SetFloat(*v)
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
