package polaralign

import (
	"fmt"
	"math"
	"time"

	"github.com/star/polargo/internal/rotations"
	"github.com/star/polargo/internal/search"
	"github.com/star/polargo/internal/transform"
)

// Pixel is an image coordinate.
type Pixel struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PixelSkyMapper maps between image pixels and catalogue (J2000.0)
// equatorial coordinates, backed by a per-image astrometric (WCS) solution.
// Mapping fails when a point falls outside the solved region or no solution
// exists; implementations wrap ErrMappingUnavailable.
type PixelSkyMapper interface {
	PixelToSky(p Pixel) (raJ2000, decJ2000 float64, err error)
	SkyToPixel(raJ2000, decJ2000 float64) (Pixel, error)
	// Time returns the capture time of the solved image.
	Time() time.Time
}

// Pixel-error grid-search parameters, degrees. Three nested coarse-to-fine
// passes; the first pass range is the session's configurable search range.
const (
	pixelPass1Resolution = 0.2
	pixelPass2Range      = 0.2
	pixelPass2Resolution = 0.02
	pixelPass3Range      = 0.02
	pixelPass3Resolution = 0.002

	// pixelResidualLimit rejects fits whose best candidate still lands more
	// than 10 pixels away from the target.
	pixelResidualLimit = 10.0
)

// SetMaxPixelSearchRange suggests how far PixelError searches in its coarse
// pass, in degrees. The range is clamped to [2, 10] so a bad suggestion
// cannot cripple or explode the search.
func (s *Session) SetMaxPixelSearchRange(degrees float64) {
	d := math.Abs(degrees)
	switch {
	case d < 2:
		s.maxPixelSearchRange = 2.0
	case d > 10:
		s.maxPixelSearchRange = 10.0
	default:
		s.maxPixelSearchRange = d
	}
}

// directionAt maps a pixel through the solver's WCS into a SkyDirection at
// the image's capture time and the session's location.
func (s *Session) directionAt(m PixelSkyMapper, p Pixel) (transform.SkyDirection, error) {
	ra, dec, err := m.PixelToSky(p)
	if err != nil {
		return transform.SkyDirection{}, fmt.Errorf("pixel (%.1f, %.1f) to sky: %w", p.X, p.Y, err)
	}
	return transform.FromCatalog(ra, dec, m.Time(), s.obs), nil
}

// AddSampleFromMapper samples the given pixel of a solved image and appends
// it to the session. Sampling the image center is appropriate for the three
// measurement images; refresh workflows sample reference stars off-center.
func (s *Session) AddSampleFromMapper(m PixelSkyMapper, p Pixel) error {
	dir, err := s.directionAt(m, p)
	if err != nil {
		return err
	}
	return s.AddSample(dir, m.Time())
}

// FindCorrectedPixel computes, for a star at the given pixel, the pixel the
// user should move that star to (by adjusting the mount's altitude and then
// azimuth knob) so that the polar-alignment error becomes zero. With altOnly
// set, only the altitude correction is applied.
func (s *Session) FindCorrectedPixel(m PixelSkyMapper, p Pixel, altOnly bool) (Pixel, error) {
	perr, err := s.PointingError()
	if err != nil {
		return Pixel{}, err
	}
	azOffset := perr.Az
	if altOnly {
		azOffset = 0.0
	}
	return s.CorrectedPixel(m, p, azOffset, perr.Alt)
}

// CorrectedPixel maps a pixel to the sky, applies the rotation that moving
// the celestial pole by (azOffset, altOffset) imparts on that point, and
// maps the rotated position back to a pixel. The offsets that correct a
// point depend on where on the sphere it lies; points near the pole would
// tolerate simply adding the offsets, but this rotation is exact everywhere.
func (s *Session) CorrectedPixel(m PixelSkyMapper, p Pixel, azOffset, altOffset float64) (Pixel, error) {
	dir, err := s.directionAt(m, p)
	if err != nil {
		return Pixel{}, err
	}

	altRotation := altOffset
	if !s.obs.NorthernHemisphere() {
		altRotation = -altOffset
	}
	pt := rotations.FromAzAlt(dir.Az, dir.Alt)
	rotated := rotations.RotateAroundZ(rotations.RotateAroundY(pt, altRotation), azOffset)
	az, alt := rotated.AzAlt()

	target := transform.FromHorizontal(az, alt, m.Time(), s.obs)
	corrected, err := m.SkyToPixel(target.RAJ2000, target.DecJ2000)
	if err != nil {
		return Pixel{}, fmt.Errorf("az %.3f alt %.3f to pixel: %w", az, alt, err)
	}
	return corrected, nil
}

// PixelError solves the inverse problem: the (az, alt) offset pair whose
// CorrectedPixel output for p lands closest to p2. Used to feed back the
// remaining alignment error while the user walks a star from p toward the
// solution position p2; the walk follows knob paths, not a great circle, so
// the direct rotation between the two sky points would not be the answer.
func (s *Session) PixelError(m PixelSkyMapper, p, p2 Pixel) (PointingError, error) {
	// Same dimension binding as the refresh search: Y carries the
	// altitude offset and Z the azimuth offset.
	obj := func(alt, az float64) float64 {
		pix, err := s.CorrectedPixel(m, p, az, alt)
		if err != nil {
			return math.Inf(1)
		}
		dx := pix.X - p2.X
		dy := pix.Y - p2.Y
		return dx*dx + dy*dy
	}
	best := s.grid.Refine(obj, 0, 0, []search.Pass{
		{Range: s.maxPixelSearchRange, Step: pixelPass1Resolution},
		{Range: pixelPass2Range, Step: pixelPass2Resolution},
		{Range: pixelPass3Range, Step: pixelPass3Resolution},
	})
	if math.IsInf(best.Cost, 1) {
		return PointingError{}, fmt.Errorf("no searched offset was mappable: %w", ErrMappingUnavailable)
	}

	pix, err := s.CorrectedPixel(m, p, best.Z, best.Y)
	if err != nil {
		return PointingError{}, err
	}
	dist := math.Hypot(pix.X-p2.X, pix.Y-p2.Y)
	if dist > pixelResidualLimit {
		s.logger.Warn("pixel error search failed", "pixel_distance", dist)
		return PointingError{}, fmt.Errorf("best fit %.1f px from target: %w", dist, ErrRotationSearch)
	}
	return PointingError{Az: best.Z, Alt: best.Y}, nil
}
