// Package validator runs quality checks across a fetched series. Single-bar
// structural rules (positive prices, high/low envelope) are enforced when
// bars are built; the checks here compare neighbouring bars to catch what a
// lone bar cannot show: price spikes, volume surges, and dead stretches of
// zero volume.
package validator

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/TavaresBugs/ScrapperTV/internal/models"
)

// AnomalyKind labels what a check found.
type AnomalyKind string

const (
	AnomalyPriceSpike  AnomalyKind = "price_spike"
	AnomalyVolumeSurge AnomalyKind = "volume_surge"
	AnomalyZeroVolume  AnomalyKind = "zero_volume_run"
)

// Anomaly is one suspicious observation, anchored to the bar it starts at.
type Anomaly struct {
	Kind      AnomalyKind `json:"kind"`
	Timestamp int64       `json:"timestamp"`
	Detail    string      `json:"detail"`
}

// Report carries the outcome of a series scan.
type Report struct {
	Bars      int       `json:"bars"`
	Anomalies []Anomaly `json:"anomalies,omitempty"`
}

// Clean reports whether the scan found nothing suspicious.
func (r *Report) Clean() bool {
	return len(r.Anomalies) == 0
}

// Thresholds tune the checks. Zero values select the defaults.
type Thresholds struct {
	// PriceSpike is the relative close-to-close move that counts as a
	// spike, 0.2 meaning 20%.
	PriceSpike decimal.Decimal

	// VolumeSurge is the multiple of the previous bar's volume that
	// counts as a surge.
	VolumeSurge decimal.Decimal

	// ZeroVolumeRun is the number of consecutive zero-volume bars that
	// counts as a dead stretch.
	ZeroVolumeRun int
}

// DefaultThresholds returns the tuning used when none is supplied.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PriceSpike:    decimal.NewFromFloat(0.2),
		VolumeSurge:   decimal.NewFromInt(10),
		ZeroVolumeRun: 3,
	}
}

// Checker scans series for cross-bar anomalies.
type Checker struct {
	thresholds Thresholds
	logger     *slog.Logger
}

// New builds a checker. Unset threshold fields fall back to the defaults.
func New(thresholds Thresholds, logger *slog.Logger) *Checker {
	defaults := DefaultThresholds()
	if thresholds.PriceSpike.IsZero() {
		thresholds.PriceSpike = defaults.PriceSpike
	}
	if thresholds.VolumeSurge.IsZero() {
		thresholds.VolumeSurge = defaults.VolumeSurge
	}
	if thresholds.ZeroVolumeRun <= 0 {
		thresholds.ZeroVolumeRun = defaults.ZeroVolumeRun
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		thresholds: thresholds,
		logger:     logger.With("component", "validator"),
	}
}

// Check scans bars in the order given and returns everything it found.
// Bars are expected sorted ascending, the order fetches produce.
func (c *Checker) Check(bars []models.Bar) *Report {
	report := &Report{Bars: len(bars)}
	if len(bars) == 0 {
		return report
	}

	zeroRun := 0
	zeroRunStart := int64(0)

	flushZeroRun := func() {
		if zeroRun >= c.thresholds.ZeroVolumeRun {
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:      AnomalyZeroVolume,
				Timestamp: zeroRunStart,
				Detail:    fmt.Sprintf("%d consecutive bars with zero volume", zeroRun),
			})
		}
		zeroRun = 0
	}

	for i := range bars {
		bar := &bars[i]

		if bar.Volume.IsZero() {
			if zeroRun == 0 {
				zeroRunStart = bar.Timestamp
			}
			zeroRun++
		} else {
			flushZeroRun()
		}

		if i == 0 {
			continue
		}
		prev := &bars[i-1]

		if prev.Close.IsPositive() {
			move := bar.Close.Sub(prev.Close).Div(prev.Close).Abs()
			if move.GreaterThan(c.thresholds.PriceSpike) {
				report.Anomalies = append(report.Anomalies, Anomaly{
					Kind:      AnomalyPriceSpike,
					Timestamp: bar.Timestamp,
					Detail:    fmt.Sprintf("close moved %s%% against the previous bar", move.Mul(decimal.NewFromInt(100)).StringFixed(1)),
				})
			}
		}

		if prev.Volume.IsPositive() && bar.Volume.GreaterThan(prev.Volume.Mul(c.thresholds.VolumeSurge)) {
			ratio := bar.Volume.Div(prev.Volume)
			report.Anomalies = append(report.Anomalies, Anomaly{
				Kind:      AnomalyVolumeSurge,
				Timestamp: bar.Timestamp,
				Detail:    fmt.Sprintf("volume is %sx the previous bar", ratio.StringFixed(1)),
			})
		}
	}
	flushZeroRun()

	if !report.Clean() {
		c.logger.Debug("series scan found anomalies",
			"bars", report.Bars,
			"anomalies", len(report.Anomalies))
	}
	return report
}
