// Package report aggregates monitoring locations into summaries, dashboard
// metrics and exports.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sells-group/cml-optimizer/internal/model"
)

const unknown = "Unknown"

// RiskDistribution counts locations per risk category.
type RiskDistribution map[model.RiskCategory]int

func riskDistribution(locs []model.MonitoringLocation) RiskDistribution {
	dist := make(RiskDistribution, len(model.RiskCategories))
	for _, rc := range model.RiskCategories {
		dist[rc] = 0
	}
	for i := range locs {
		if locs[i].RiskCategory.Valid() {
			dist[locs[i].RiskCategory]++
		}
	}
	return dist
}

// Summary is the overview of all locations.
type Summary struct {
	TotalLocations        int              `json:"total_cmls"`
	EliminationCandidates int              `json:"elimination_candidates"`
	RequiresReview        int              `json:"requires_review"`
	RiskDistribution      RiskDistribution `json:"risk_distribution"`
	AverageCorrosionRate  float64          `json:"average_corrosion_rate"`
	Facilities            []string         `json:"facilities"`
	Systems               []string         `json:"systems"`
}

// BuildSummary summarizes locs. Missing corrosion rates count as zero in
// the average.
func BuildSummary(locs []model.MonitoringLocation) Summary {
	s := Summary{
		TotalLocations:   len(locs),
		RiskDistribution: riskDistribution(locs),
		Facilities:       []string{},
		Systems:          []string{},
	}
	facilities := map[string]bool{}
	systems := map[string]bool{}
	var rateSum float64
	for i := range locs {
		l := &locs[i]
		if l.EliminationCandidate {
			s.EliminationCandidates++
		}
		if l.RequiresReview {
			s.RequiresReview++
		}
		rateSum += model.Float(l.AverageCorrosionRate)
		if f := model.Str(l.Facility); f != "" {
			facilities[f] = true
		}
		if sys := model.Str(l.System); sys != "" {
			systems[sys] = true
		}
	}
	if len(locs) > 0 {
		s.AverageCorrosionRate = round(rateSum/float64(len(locs)), 3)
	}
	s.Facilities = sortedKeys(facilities)
	s.Systems = sortedKeys(systems)
	return s
}

// DashboardMetrics are the headline dashboard numbers.
type DashboardMetrics struct {
	TotalLocations        int       `json:"total_cmls"`
	ActiveLocations       int       `json:"active_cmls"`
	EliminationCandidates int       `json:"elimination_candidates"`
	CriticalRisk          int       `json:"critical_risk"`
	HighRisk              int       `json:"high_risk"`
	MediumRisk            int       `json:"medium_risk"`
	LowRisk               int       `json:"low_risk"`
	AvgRemainingLife      float64   `json:"avg_remaining_life"`
	FacilitiesCount       int       `json:"facilities_count"`
	LastUpdated           time.Time `json:"last_updated"`
}

// BuildMetrics computes dashboard metrics as of now.
func BuildMetrics(locs []model.MonitoringLocation, now time.Time) DashboardMetrics {
	dist := riskDistribution(locs)
	m := DashboardMetrics{
		TotalLocations: len(locs),
		CriticalRisk:   dist[model.RiskCritical],
		HighRisk:       dist[model.RiskHigh],
		MediumRisk:     dist[model.RiskMedium],
		LowRisk:        dist[model.RiskLow],
		LastUpdated:    now,
	}
	facilities := map[string]bool{}
	var lifeSum float64
	for i := range locs {
		l := &locs[i]
		if l.EliminationCandidate {
			m.EliminationCandidates++
		} else {
			m.ActiveLocations++
		}
		lifeSum += model.Float(l.RemainingLifeYears)
		if f := model.Str(l.Facility); f != "" {
			facilities[f] = true
		}
	}
	if len(locs) > 0 {
		m.AvgRemainingLife = round(lifeSum/float64(len(locs)), 1)
	}
	m.FacilitiesCount = len(facilities)
	return m
}

// FacilityCounts breaks down one facility.
type FacilityCounts struct {
	Total        int `json:"total"`
	Eliminations int `json:"eliminations"`
	Critical     int `json:"critical"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
}

// FacilityBreakdown counts locations per facility. Locations without a
// facility are grouped under "Unknown".
func FacilityBreakdown(locs []model.MonitoringLocation) map[string]*FacilityCounts {
	out := map[string]*FacilityCounts{}
	for i := range locs {
		l := &locs[i]
		name := model.Str(l.Facility)
		if name == "" {
			name = unknown
		}
		fc, ok := out[name]
		if !ok {
			fc = &FacilityCounts{}
			out[name] = fc
		}
		fc.Total++
		if l.EliminationCandidate {
			fc.Eliminations++
		}
		switch l.RiskCategory {
		case model.RiskCritical:
			fc.Critical++
		case model.RiskHigh:
			fc.High++
		case model.RiskMedium:
			fc.Medium++
		case model.RiskLow:
			fc.Low++
		}
	}
	return out
}

// Trend is the corrosion rate spread of one commodity.
type Trend struct {
	Commodity string  `json:"commodity"`
	AvgRate   float64 `json:"avg_rate"`
	MinRate   float64 `json:"min_rate"`
	MaxRate   float64 `json:"max_rate"`
	Count     int     `json:"count"`
}

// CorrosionTrends groups non-zero corrosion rates by commodity, highest
// average first.
func CorrosionTrends(locs []model.MonitoringLocation) []Trend {
	byCommodity := map[string][]float64{}
	for i := range locs {
		l := &locs[i]
		c := model.Str(l.Commodity)
		if c == "" || model.Float(l.AverageCorrosionRate) == 0 {
			continue
		}
		byCommodity[c] = append(byCommodity[c], *l.AverageCorrosionRate)
	}

	trends := make([]Trend, 0, len(byCommodity))
	for c, rates := range byCommodity {
		d := Describe(rates)
		trends = append(trends, Trend{
			Commodity: c,
			AvgRate:   round(d.Mean, 3),
			MinRate:   round(d.Min, 3),
			MaxRate:   round(d.Max, 3),
			Count:     len(rates),
		})
	}
	sort.Slice(trends, func(i, j int) bool {
		if trends[i].AvgRate != trends[j].AvgRate {
			return trends[i].AvgRate > trends[j].AvgRate
		}
		return trends[i].Commodity < trends[j].Commodity
	})
	return trends
}

// MatrixPoint is one location on the corrosion rate / remaining life grid.
type MatrixPoint struct {
	LocationID    string  `json:"cml_id"`
	CorrosionRate float64 `json:"corrosion_rate"`
	RemainingLife float64 `json:"remaining_life"`
	RiskLevel     string  `json:"risk_level"`
	Facility      string  `json:"facility,omitempty"`
	Commodity     string  `json:"commodity,omitempty"`
}

// RiskMatrix returns every location with both a non-zero corrosion rate
// and a non-zero remaining life.
func RiskMatrix(locs []model.MonitoringLocation) []MatrixPoint {
	out := []MatrixPoint{}
	for i := range locs {
		l := &locs[i]
		rate, life := model.Float(l.AverageCorrosionRate), model.Float(l.RemainingLifeYears)
		if rate == 0 || life == 0 {
			continue
		}
		out = append(out, MatrixPoint{
			LocationID:    l.LocationID,
			CorrosionRate: rate,
			RemainingLife: life,
			RiskLevel:     riskLabel(l.RiskCategory),
			Facility:      model.Str(l.Facility),
			Commodity:     model.Str(l.Commodity),
		})
	}
	return out
}

// Candidate is one elimination candidate with its rationale.
type Candidate struct {
	LocationID    string         `json:"cml_id"`
	Facility      string         `json:"facility,omitempty"`
	System        string         `json:"system,omitempty"`
	Commodity     string         `json:"commodity,omitempty"`
	RiskLevel     string         `json:"risk_level"`
	RemainingLife *float64       `json:"remaining_life,omitempty"`
	Probability   *float64       `json:"ml_probability,omitempty"`
	Confidence    *float64       `json:"ml_confidence,omitempty"`
	Overridden    bool           `json:"sme_override"`
	Decision      model.Decision `json:"sme_decision,omitempty"`
	Reason        string         `json:"reason"`
}

// EliminationSummary lists the current elimination candidates.
type EliminationSummary struct {
	TotalCandidates int         `json:"total_candidates"`
	Candidates      []Candidate `json:"candidates"`
	Overrides       int         `json:"sme_overrides"`
}

// BuildEliminationSummary collects the elimination candidates of locs.
func BuildEliminationSummary(locs []model.MonitoringLocation) EliminationSummary {
	s := EliminationSummary{Candidates: []Candidate{}}
	for i := range locs {
		l := &locs[i]
		if !l.EliminationCandidate {
			continue
		}
		c := Candidate{
			LocationID:    l.LocationID,
			Facility:      model.Str(l.Facility),
			System:        model.Str(l.System),
			Commodity:     model.Str(l.Commodity),
			RiskLevel:     riskLabel(l.RiskCategory),
			RemainingLife: l.RemainingLifeYears,
			Reason:        candidateReason(l),
		}
		if l.Prediction != nil {
			p, conf := l.Prediction.Probability, l.Prediction.Confidence
			c.Probability, c.Confidence = &p, &conf
		}
		if l.Override != nil {
			c.Overridden = true
			c.Decision = l.Override.Decision
			s.Overrides++
		}
		s.Candidates = append(s.Candidates, c)
	}
	s.TotalCandidates = len(s.Candidates)
	return s
}

func candidateReason(l *model.MonitoringLocation) string {
	if l.Override != nil && l.Override.Reason != "" {
		return "SME override: " + l.Override.Reason
	}
	if l.RemainingLifeYears != nil {
		return fmt.Sprintf("%s risk, %.1f years remaining", riskLabel(l.RiskCategory), *l.RemainingLifeYears)
	}
	return riskLabel(l.RiskCategory) + " risk"
}

func riskLabel(rc model.RiskCategory) string {
	if rc == "" {
		return unknown
	}
	return string(rc)
}

// Distribution describes a sample.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Describe returns the population statistics of values, or zeros for an
// empty sample.
func Describe(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / n

	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}

	mid := len(sorted) / 2
	median := sorted[mid]
	if len(sorted)%2 == 0 {
		median = (sorted[mid-1] + sorted[mid]) / 2
	}

	return Distribution{
		Mean:   mean,
		Median: median,
		Std:    math.Sqrt(sq / n),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

func (d Distribution) rounded(digits int) Distribution {
	return Distribution{
		Mean:   round(d.Mean, digits),
		Median: round(d.Median, digits),
		Std:    round(d.Std, digits),
		Min:    round(d.Min, digits),
		Max:    round(d.Max, digits),
	}
}

// EliminationStats counts decision outcomes.
type EliminationStats struct {
	TotalCandidates int `json:"total_candidates"`
	Overrides       int `json:"sme_overrides"`
	HighConfidence  int `json:"high_confidence"`
}

// Statistics is the statistical summary used by reports.
type Statistics struct {
	TotalLocations   int              `json:"total_cmls"`
	CorrosionRate    Distribution     `json:"corrosion_rate_stats"`
	RemainingLife    Distribution     `json:"remaining_life_stats"`
	RiskDistribution RiskDistribution `json:"risk_distribution"`
	Elimination      EliminationStats `json:"elimination_stats"`
}

// BuildStatistics summarizes non-zero corrosion rates and remaining lives.
// Confidence above highConfidence counts as high confidence.
func BuildStatistics(locs []model.MonitoringLocation, highConfidence float64) Statistics {
	var rates, lives []float64
	st := Statistics{
		TotalLocations:   len(locs),
		RiskDistribution: riskDistribution(locs),
	}
	for i := range locs {
		l := &locs[i]
		if v := model.Float(l.AverageCorrosionRate); v != 0 {
			rates = append(rates, v)
		}
		if v := model.Float(l.RemainingLifeYears); v != 0 {
			lives = append(lives, v)
		}
		if l.EliminationCandidate {
			st.Elimination.TotalCandidates++
		}
		if l.Override != nil {
			st.Elimination.Overrides++
		}
		if l.Prediction != nil && l.Prediction.Confidence > highConfidence {
			st.Elimination.HighConfidence++
		}
	}
	st.CorrosionRate = Describe(rates).rounded(3)
	st.RemainingLife = Describe(lives).rounded(1)
	return st
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
