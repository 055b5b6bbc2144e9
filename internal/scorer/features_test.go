package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cml-optimizer/internal/model"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

func TestExtract(t *testing.T) {
	loc := &model.MonitoringLocation{
		DesignThicknessMM:       ptrFloat64(10),
		MinAllowableThicknessMM: ptrFloat64(6),
		CurrentThicknessMM:      ptrFloat64(9),
		CorrosionAllowanceMM:    ptrFloat64(3),
		AverageCorrosionRate:    ptrFloat64(0.5),
		RemainingLifeYears:      ptrFloat64(25),
		NumberOfInspections:     ptrInt(20),
		RiskCategory:            model.RiskHigh,
	}

	x := Extract(loc, DefaultFeatureConfig())
	require.Len(t, x, NumFeatures)
	assert.InDelta(t, 0.3, x[0], 1e-9)
	assert.InDelta(t, 0.1, x[1], 1e-9)
	assert.InDelta(t, 0.25, x[2], 1e-9)
	assert.InDelta(t, 1.0, x[3], 1e-9)
	assert.Equal(t, []float64{0, 1, 0, 0}, []float64(x[4:8]))
	assert.InDelta(t, 1.0/3, x[8], 1e-9)
}

func TestExtract_MissingValues(t *testing.T) {
	x := Extract(&model.MonitoringLocation{}, DefaultFeatureConfig())
	assert.Equal(t, Vector{0, 0, 0.5, 0, 0, 0, 0, 0, 0}, x)
}

func TestExtract_Clamps(t *testing.T) {
	loc := &model.MonitoringLocation{
		DesignThicknessMM:       ptrFloat64(5),
		MinAllowableThicknessMM: ptrFloat64(1),
		CurrentThicknessMM:      ptrFloat64(12),
		CorrosionAllowanceMM:    ptrFloat64(1),
		AverageCorrosionRate:    ptrFloat64(-0.3),
		RemainingLifeYears:      ptrFloat64(500),
	}
	x := Extract(loc, DefaultFeatureConfig())
	assert.Equal(t, 1.0, x[0])
	assert.Equal(t, 0.0, x[1])
	assert.Equal(t, 1.0, x[2])
	assert.Equal(t, 0.0, x[8])

	loc.AverageCorrosionRate = ptrFloat64(50)
	loc.RemainingLifeYears = ptrFloat64(-4)
	loc.CurrentThicknessMM = ptrFloat64(0)
	x = Extract(loc, DefaultFeatureConfig())
	assert.Equal(t, 1.0, x[1])
	assert.Equal(t, 0.0, x[2])
	assert.Equal(t, -0.2, x[0])
	assert.Equal(t, 1.0, x[8])
}

func TestInspectionCount_LogScaled(t *testing.T) {
	assert.Equal(t, 0.0, inspectionCount(nil))
	assert.Equal(t, 0.0, inspectionCount(ptrInt(0)))
	assert.InDelta(t, math.Log(2)/math.Log(21), inspectionCount(ptrInt(1)), 1e-9)
	assert.Equal(t, 1.0, inspectionCount(ptrInt(200)))
}
