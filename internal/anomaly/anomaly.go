// Package anomaly implements a stateless statistical pass over hourly log
// trend rows. Detect performs no I/O and is safe to invoke repeatedly;
// caching is the caller's responsibility.
package anomaly

import (
	"math"
	"sort"
	"strings"

	"github.com/rejavarti/logging-server-sub008/internal/domain"
)

const (
	// minBaselineSamples is the minimum number of hour buckets for a level
	// before its statistics are trusted.
	minBaselineSamples = 5

	flagThreshold     = 3.0
	highThreshold     = 4.0
	criticalThreshold = 5.0

	// fallbackMultiplier flags error hours above this multiple of the mean
	// when the z-score pass found nothing.
	fallbackMultiplier = 2.0
)

// Detect flags statistical outliers in trend rows covering a trailing
// window. Results are sorted by descending |z|. When the z-score pass
// yields nothing, a cruder error-level heuristic runs so callers still see
// weaker signals.
func Detect(points []domain.TrendPoint) []domain.AnomalySample {
	byLevel := make(map[string][]domain.TrendPoint)
	for _, p := range points {
		byLevel[p.Level] = append(byLevel[p.Level], p)
	}

	var samples []domain.AnomalySample
	for _, levelPoints := range byLevel {
		if len(levelPoints) < minBaselineSamples {
			continue
		}

		mean, stdev := meanStdev(levelPoints)
		for _, p := range levelPoints {
			var z float64
			if stdev > 0 {
				z = (float64(p.Count) - mean) / stdev
			}
			if math.Abs(z) < flagThreshold {
				continue
			}

			samples = append(samples, domain.AnomalySample{
				Hour:      p.Hour,
				Level:     p.Level,
				Count:     p.Count,
				Mean:      mean,
				StdDev:    stdev,
				ZScore:    z,
				Severity:  severity(z),
				Direction: direction(z),
			})
		}
	}

	if len(samples) == 0 {
		samples = fallbackErrorSpikes(byLevel)
	}

	sort.Slice(samples, func(i, j int) bool {
		return math.Abs(samples[i].ZScore) > math.Abs(samples[j].ZScore)
	})
	return samples
}

func severity(z float64) string {
	switch abs := math.Abs(z); {
	case abs >= criticalThreshold:
		return domain.SeverityCritical
	case abs >= highThreshold:
		return domain.SeverityHigh
	default:
		return domain.SeverityMedium
	}
}

func direction(z float64) string {
	if z < 0 {
		return domain.DirectionDrop
	}
	return domain.DirectionSpike
}

// fallbackErrorSpikes flags error-level hours whose count exceeds twice the
// error-hour mean, at severity low.
func fallbackErrorSpikes(byLevel map[string][]domain.TrendPoint) []domain.AnomalySample {
	var errorPoints []domain.TrendPoint
	for level, points := range byLevel {
		if strings.EqualFold(level, "error") {
			errorPoints = append(errorPoints, points...)
		}
	}
	if len(errorPoints) == 0 {
		return nil
	}

	mean, _ := meanStdev(errorPoints)
	if mean <= 0 {
		return nil
	}

	var samples []domain.AnomalySample
	for _, p := range errorPoints {
		if float64(p.Count) <= fallbackMultiplier*mean {
			continue
		}
		samples = append(samples, domain.AnomalySample{
			Hour:      p.Hour,
			Level:     p.Level,
			Count:     p.Count,
			Mean:      mean,
			ZScore:    float64(p.Count) / mean,
			Severity:  domain.SeverityLow,
			Direction: domain.DirectionSpike,
		})
	}
	return samples
}

// meanStdev returns the mean and population standard deviation of counts.
func meanStdev(points []domain.TrendPoint) (float64, float64) {
	if len(points) == 0 {
		return 0, 0
	}

	var sum float64
	for _, p := range points {
		sum += float64(p.Count)
	}
	mean := sum / float64(len(points))

	var sq float64
	for _, p := range points {
		d := float64(p.Count) - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(points)))
}
