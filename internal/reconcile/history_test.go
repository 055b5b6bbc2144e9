package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHistory(t *testing.T) {
	readings, err := parseHistory("CML-1", Row{
		FieldHistoryDates:        "2022-01-01 | 2020-01-01|2021-01-01|2021-01-01",
		FieldHistoryMeasurements: "9.0|10.0|9.5|9.5",
		FieldTechnique:           "UT",
	})
	require.NoError(t, err)
	require.Len(t, readings, 3)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), readings[0].Date)
	assert.InDelta(t, 9.0, readings[2].ThicknessMM, 1e-9)
	assert.Equal(t, "UT", readings[0].Technique)
	assert.Equal(t, "CML-1", readings[0].LocationID)
}

func TestParseHistory_Absent(t *testing.T) {
	readings, err := parseHistory("CML-1", Row{})
	require.NoError(t, err)
	assert.Nil(t, readings)
}

func TestParseHistory_SameDateDifferentThicknessKept(t *testing.T) {
	readings, err := parseHistory("CML-1", Row{
		FieldHistoryDates:        "2021-01-01|2021-01-01",
		FieldHistoryMeasurements: "9.5|9.4",
	})
	require.NoError(t, err)
	assert.Len(t, readings, 2)
}

func TestParseHistory_Errors(t *testing.T) {
	tests := []struct {
		name string
		row  Row
	}{
		{"dates only", Row{FieldHistoryDates: "2021-01-01"}},
		{"measurements only", Row{FieldHistoryMeasurements: "9.5"}},
		{"length mismatch", Row{FieldHistoryDates: "2021-01-01|2022-01-01", FieldHistoryMeasurements: "9.5"}},
		{"bad date", Row{FieldHistoryDates: "01/01/2021", FieldHistoryMeasurements: "9.5"}},
		{"bad measurement", Row{FieldHistoryDates: "2021-01-01", FieldHistoryMeasurements: "thin"}},
		{"negative measurement", Row{FieldHistoryDates: "2021-01-01", FieldHistoryMeasurements: "-1"}},
		{"empty entry", Row{FieldHistoryDates: "2021-01-01|", FieldHistoryMeasurements: "9.5|9.4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseHistory("CML-1", tt.row)
			assert.Error(t, err)
		})
	}
}
