package polaralign

import (
	"fmt"
	"math"
	"time"

	"github.com/star/polargo/internal/rotations"
	"github.com/star/polargo/internal/search"
	"github.com/star/polargo/internal/transform"
)

// Refresh grid-search parameters, in degrees. The first pass samples at
// 1-arcminute resolution over a range scaled to the separation of the two
// points; the second refines ±4 arcminutes around the pass-1 optimum at
// 5-arcsecond resolution.
const (
	refreshPass1Resolution = 1.0 / 60.0
	refreshPass2Resolution = 5.0 / 3600.0
	refreshPass2Range      = 4.0 / 60.0

	// refreshResidualLimitDeg rejects refresh fits whose best residual
	// exceeds half a degree.
	refreshResidualLimitDeg = 0.5
)

// RefreshResult is the outcome of one refresh computation: the re-derived
// axis, its pointing error, the raw knob-adjustment rotation pair that
// explains the move (degrees, diagnostic), and the fit residual (degrees).
type RefreshResult struct {
	Axis          AxisEstimate  `json:"axis"`
	Error         PointingError `json:"error"`
	AzAdjustment  float64       `json:"az_adjustment"`
	AltAdjustment float64       `json:"alt_adjustment"`
	Residual      float64       `json:"residual"`
}

// ProcessRefresh re-derives the axis and pointing error from a follow-up
// plate-solved image taken while the user corrects the mount, without a new
// three-point sampling sequence.
//
// The third sample cannot be compared against directly: the mount tracks, so
// even with untouched knobs its azimuth/altitude drift with sidereal time.
// The third point is therefore first projected forward by rotating it around
// the original axis through the sidereal angle accumulated since its capture.
// The rotation pair that carries that projected point onto the new direction
// is then the user's knob adjustment; applying it to the original axis gives
// the current axis.
func (s *Session) ProcessRefresh(raJ2000, decJ2000 float64, t time.Time) (RefreshResult, error) {
	if len(s.samples) != 3 || s.axis == nil {
		return RefreshResult{}, fmt.Errorf("refresh requires 3 samples and an axis estimate: %w", ErrInsufficientSamples)
	}

	newDir := transform.FromCatalog(raJ2000, decJ2000, t, s.obs)
	newPoint := rotations.FromAzAlt(newDir.Az, newDir.Alt)

	// Sidereal angle since the third sample. Negative: the sky appears to
	// rotate westward as time advances.
	third := s.samples[2]
	secs := t.Sub(third.Time).Seconds()
	trackAngle := -(transform.SiderealRateDegPerHour * secs) / 3600.0

	p3Orig := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	axisPt := rotations.FromAzAlt(s.axis.Az, s.axis.Alt)
	point3 := rotations.RotateAroundAxis(p3Orig, axisPt, trackAngle)

	best := s.bestRotation(point3, newPoint)
	if best.Cost > refreshResidualLimitDeg {
		s.logger.Warn("refresh rotation estimate failed",
			"residual_arcmin", best.Cost*60,
		)
		return RefreshResult{}, fmt.Errorf("residual %.1f': %w", best.Cost*60, ErrRotationSearch)
	}
	s.logger.Info("refresh adjustment estimated",
		"az_adjustment_arcmin", best.Z*60,
		"alt_adjustment_arcmin", best.Y*60,
		"residual_arcsec", best.Cost*3600,
	)

	// The same knob rotations applied to the original axis give the mount's
	// current axis.
	newAxisPt := rotations.RotateAroundZ(rotations.RotateAroundY(axisPt, best.Y), best.Z)
	az, alt := newAxisPt.AzAlt()
	axis := AxisEstimate{Az: az, Alt: alt}
	perr := axisToError(axis, s.obs.LatDeg, s.obs.NorthernHemisphere())

	s.logger.Info("refresh error computed",
		"ra0", raJ2000, "dec0", decJ2000,
		"az", newDir.Az, "alt", newDir.Alt,
		"axis_az", axis.Az, "axis_alt", axis.Alt,
		"az_error_arcmin", perr.Az*60, "alt_error_arcmin", perr.Alt*60,
	)

	return RefreshResult{
		Axis:          axis,
		Error:         perr,
		AzAdjustment:  best.Z,
		AltAdjustment: best.Y,
		Residual:      best.Cost,
	}, nil
}

// bestRotation finds the (Y, Z) rotation pair carrying from onto goal.
// The space is non-linear, so both dimensions are searched jointly: solving
// the best Z first and then the best Y often lands in a poor local optimum.
func (s *Session) bestRotation(from, goal rotations.Vector3) search.Result {
	// A great-circle rotation between the points constrains the search range.
	separation := rotations.Angle(from, goal)
	pass1Range := math.Max(1.0, math.Min(10.0, 2.5*math.Abs(separation)))

	obj := func(y, z float64) float64 {
		p := rotations.RotateAroundZ(rotations.RotateAroundY(from, y), z)
		return math.Abs(rotations.Angle(p, goal))
	}
	return s.grid.Refine(obj, 0, 0, []search.Pass{
		{Range: pass1Range, Step: refreshPass1Resolution},
		{Range: refreshPass2Range, Step: refreshPass2Resolution},
	})
}
