// Package polaralign determines the real-world rotation axis of an
// equatorially-mounted telescope from three plate-solved sky images taken
// with small mount rotations between them, computes the pointing error of
// that axis relative to the celestial pole, and supports the two live
// correction workflows: pixel-space "move the star" guidance and
// plate-solve-based refresh refinement.
//
// A Session accumulates up to three samples, estimates the axis once, and
// then answers any number of refresh and pixel queries against the fixed
// third sample and the fixed original axis. Sessions are not safe for
// concurrent use; callers serialize access.
package polaralign

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/star/polargo/internal/rotations"
	"github.com/star/polargo/internal/search"
	"github.com/star/polargo/internal/transform"
)

// Recoverable failure kinds. Every computation that can fail returns one of
// these wrapped with context; none is fatal to the process.
var (
	// ErrInsufficientSamples is returned when axis estimation (or anything
	// depending on it) is requested before three samples are present.
	ErrInsufficientSamples = errors.New("fewer than 3 samples")

	// ErrDegenerateGeometry is returned when the three samples are too close
	// to collinear or coincident for a reliable axis fit; the user should
	// retake the images with more rotation between them.
	ErrDegenerateGeometry = errors.New("degenerate sample geometry")

	// ErrRotationSearch is returned when the best grid-search fit leaves a
	// residual too large to trust: the new image is inconsistent with a
	// simple knob-adjustment model.
	ErrRotationSearch = errors.New("rotation search residual too large")

	// ErrMappingUnavailable is returned when the external pixel/sky mapper
	// cannot resolve a point (outside the solved region, or no solution).
	ErrMappingUnavailable = errors.New("pixel/sky mapping unavailable")

	// ErrSessionFull is returned when a fourth sample is added.
	ErrSessionFull = errors.New("session already holds 3 samples")
)

// degenerateAxisThreshold is the minimum length of the fitted plane normal.
// Below it the normalization failed and the three points carry no usable
// rotation information. Downstream UI behavior depends on this exact value.
const degenerateAxisThreshold = 0.9

// Sample is one solved image: the sky direction of its sampled point and the
// capture time.
type Sample struct {
	Direction transform.SkyDirection
	Time      time.Time
}

// AxisEstimate is the azimuth and altitude of the inferred mount rotation
// axis, in degrees.
type AxisEstimate struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

// PointingError is the signed offset between an axis estimate and the true
// celestial pole, in degrees. Azimuth error is normalized into (-180, 180].
type PointingError struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

// Session owns one polar-alignment run: the sample sequence and the axis
// estimated from it. The geographic location is fixed at construction.
type Session struct {
	obs    transform.Observer
	grid   search.Grid
	logger *slog.Logger

	samples []Sample
	axis    *AxisEstimate

	maxPixelSearchRange float64
}

// NewSession creates a Session for the given observer. workers > 1 spreads
// grid-search rows across that many goroutines; 0 or 1 evaluates serially.
func NewSession(obs transform.Observer, workers int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		obs:                 obs,
		grid:                search.Grid{Workers: workers},
		logger:              logger,
		maxPixelSearchRange: 2.0,
	}
}

// Observer returns the session's geographic location.
func (s *Session) Observer() transform.Observer {
	return s.obs
}

// Reset clears all samples and the axis estimate.
func (s *Session) Reset() {
	s.samples = nil
	s.axis = nil
}

// AddSample appends one solved-image sample. The third sample becomes the
// reference for all later refresh computations. A fourth sample is rejected.
func (s *Session) AddSample(dir transform.SkyDirection, t time.Time) error {
	if len(s.samples) > 2 {
		return ErrSessionFull
	}
	s.samples = append(s.samples, Sample{Direction: dir, Time: t})
	s.logger.Info("sample added",
		"index", len(s.samples)-1,
		"ra0", dir.RAJ2000, "dec0", dir.DecJ2000,
		"ra", dir.RA, "dec", dir.Dec,
		"az", dir.Az, "alt", dir.Alt,
	)
	return nil
}

// SampleCount returns the number of samples accumulated so far.
func (s *Session) SampleCount() int {
	return len(s.samples)
}

// Samples returns a copy of the sample sequence.
func (s *Session) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Axis returns the current axis estimate, if one has been computed.
func (s *Session) Axis() (AxisEstimate, bool) {
	if s.axis == nil {
		return AxisEstimate{}, false
	}
	return *s.axis, true
}

// EstimateAxis fits the mount rotation axis through three sampled unit
// vectors. Each point lies on the circle the RA axis sweeps it through, so
// the three points define a plane whose normal (up to sign) is the axis; the
// sign is fixed so the axis points into the hemisphere matching the
// observer's latitude.
func EstimateAxis(p1, p2, p3 rotations.Vector3, northern bool) (AxisEstimate, error) {
	axis := rotations.PlaneNormal(p1, p2, p3)
	if axis.Length() < degenerateAxisThreshold {
		return AxisEstimate{}, fmt.Errorf("normal vector too short (%.3g): %w", axis.Length(), ErrDegenerateGeometry)
	}
	if (northern && axis.X < 0) || (!northern && axis.X > 0) {
		axis = axis.Neg()
	}
	az, alt := axis.AzAlt()
	return AxisEstimate{Az: az, Alt: alt}, nil
}

// FindAxis estimates the mount axis from the three accumulated samples and
// stores it on the session.
func (s *Session) FindAxis() (AxisEstimate, error) {
	if len(s.samples) != 3 {
		return AxisEstimate{}, fmt.Errorf("have %d: %w", len(s.samples), ErrInsufficientSamples)
	}
	p1 := rotations.FromAzAlt(s.samples[0].Direction.Az, s.samples[0].Direction.Alt)
	p2 := rotations.FromAzAlt(s.samples[1].Direction.Az, s.samples[1].Direction.Alt)
	p3 := rotations.FromAzAlt(s.samples[2].Direction.Az, s.samples[2].Direction.Alt)

	axis, err := EstimateAxis(p1, p2, p3, s.obs.NorthernHemisphere())
	if err != nil {
		s.logger.Warn("axis estimation failed", "error", err)
		return AxisEstimate{}, err
	}
	s.axis = &axis
	s.logger.Info("axis estimated", "az", axis.Az, "alt", axis.Alt)
	return axis, nil
}

// axisToError converts an axis estimate into the pointing error relative to
// the celestial pole for the given latitude. Hemisphere-dependent sign
// convention; azimuth error normalized into (-180, 180].
func axisToError(axis AxisEstimate, latDeg float64, northern bool) PointingError {
	var e PointingError
	if northern {
		e.Alt = axis.Alt - latDeg
		e.Az = axis.Az
	} else {
		e.Alt = axis.Alt + latDeg
		e.Az = axis.Az + 180.0
	}
	for e.Az > 180.0 {
		e.Az -= 360.0
	}
	return e
}

// PointingError returns the pointing error of the session's axis estimate.
func (s *Session) PointingError() (PointingError, error) {
	if s.axis == nil {
		return PointingError{}, fmt.Errorf("axis not estimated: %w", ErrInsufficientSamples)
	}
	return axisToError(*s.axis, s.obs.LatDeg, s.obs.NorthernHemisphere()), nil
}

// SolutionDirections computes where the mount should point so that, taken
// there by the altitude and azimuth knobs, its rotation axis coincides with
// the pole. The full solution applies the altitude and azimuth corrections;
// the alt-only variant applies just the altitude correction, for workflows
// that fix altitude before azimuth. Both are derived from the third sample.
func (s *Session) SolutionDirections() (solution, altOnly transform.SkyDirection, err error) {
	if len(s.samples) != 3 || s.axis == nil {
		return transform.SkyDirection{}, transform.SkyDirection{},
			fmt.Errorf("solution requires 3 samples and an axis estimate: %w", ErrInsufficientSamples)
	}
	perr := axisToError(*s.axis, s.obs.LatDeg, s.obs.NorthernHemisphere())

	third := s.samples[2]
	p3 := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	altPoint := rotations.RotateAroundY(p3, perr.Alt)
	solPoint := rotations.RotateAroundZ(altPoint, perr.Az)

	az, alt := solPoint.AzAlt()
	solution = transform.FromHorizontal(az, alt, third.Time, s.obs)

	azA, altA := altPoint.AzAlt()
	altOnly = transform.FromHorizontal(azA, altA, third.Time, s.obs)
	return solution, altOnly, nil
}
