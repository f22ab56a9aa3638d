// Package wcs consumes plate-solve results: per-image astrometric solutions
// mapping pixel coordinates to J2000 sky coordinates through a gnomonic
// (TAN) projection. Solving itself happens elsewhere; this package only
// evaluates the solution an external solver produced.
package wcs

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/star/polargo/internal/polaralign"
)

// Solution is a plate-solve result for one image, in the FITS WCS
// convention: CRPIX is the (1-based) reference pixel, CRVAL the J2000
// RA/Dec at that pixel in degrees, and the CD matrix the degrees-per-pixel
// linear transform (scale, rotation, flip).
type Solution struct {
	Width  int `json:"width"`
	Height int `json:"height"`

	CRPix1 float64 `json:"crpix1"`
	CRPix2 float64 `json:"crpix2"`
	CRVal1 float64 `json:"crval1"`
	CRVal2 float64 `json:"crval2"`
	CD11   float64 `json:"cd1_1"`
	CD12   float64 `json:"cd1_2"`
	CD21   float64 `json:"cd2_1"`
	CD22   float64 `json:"cd2_2"`

	ObservedAt time.Time `json:"observed_at"`
}

// Parse decodes and validates a solve-result JSON document.
func Parse(r io.Reader) (*Solution, error) {
	var sol Solution
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sol); err != nil {
		return nil, fmt.Errorf("decoding solve result: %w", err)
	}
	if err := sol.validate(); err != nil {
		return nil, err
	}
	return &sol, nil
}

// ParseFile reads a solve-result JSON file.
func ParseFile(path string) (*Solution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening solve result: %w", err)
	}
	defer f.Close()
	sol, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sol, nil
}

func (s *Solution) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid image dimensions %dx%d", s.Width, s.Height)
	}
	if s.CRVal2 < -90 || s.CRVal2 > 90 {
		return fmt.Errorf("reference declination %.4f out of range", s.CRVal2)
	}
	if s.ObservedAt.IsZero() {
		return fmt.Errorf("missing observation time")
	}
	if det := s.CD11*s.CD22 - s.CD12*s.CD21; det == 0 {
		return fmt.Errorf("singular CD matrix")
	}
	return nil
}

// Center returns the image center pixel, the point sampled by the three
// alignment measurement images.
func (s *Solution) Center() polaralign.Pixel {
	return polaralign.Pixel{X: float64(s.Width) / 2, Y: float64(s.Height) / 2}
}

// TanMapper evaluates a Solution as a polaralign.PixelSkyMapper.
type TanMapper struct {
	sol Solution
	// Inverse CD matrix, pixels per degree.
	inv11, inv12, inv21, inv22 float64
}

// NewTanMapper precomputes the inverse projection for a solution.
func NewTanMapper(sol *Solution) (*TanMapper, error) {
	if err := sol.validate(); err != nil {
		return nil, err
	}
	det := sol.CD11*sol.CD22 - sol.CD12*sol.CD21
	return &TanMapper{
		sol:   *sol,
		inv11: sol.CD22 / det,
		inv12: -sol.CD12 / det,
		inv21: -sol.CD21 / det,
		inv22: sol.CD11 / det,
	}, nil
}

// Time returns the capture time of the solved image.
func (m *TanMapper) Time() time.Time {
	return m.sol.ObservedAt
}

// PixelToSky deprojects an image pixel to J2000 RA/Dec degrees. Fails for
// pixels outside the solved image.
func (m *TanMapper) PixelToSky(p polaralign.Pixel) (raJ2000, decJ2000 float64, err error) {
	if !m.inBounds(p) {
		return 0, 0, fmt.Errorf("pixel (%.1f, %.1f) outside %dx%d image: %w",
			p.X, p.Y, m.sol.Width, m.sol.Height, polaralign.ErrMappingUnavailable)
	}

	// Intermediate world coordinates (degrees on the tangent plane).
	dx := p.X - (m.sol.CRPix1 - 1)
	dy := p.Y - (m.sol.CRPix2 - 1)
	xi := deg2rad(m.sol.CD11*dx + m.sol.CD12*dy)
	eta := deg2rad(m.sol.CD21*dx + m.sol.CD22*dy)

	ra0 := deg2rad(m.sol.CRVal1)
	dec0 := deg2rad(m.sol.CRVal2)
	sinDec0, cosDec0 := math.Sin(dec0), math.Cos(dec0)

	den := cosDec0 - eta*sinDec0
	ra := ra0 + math.Atan2(xi, den)
	dec := math.Atan2(sinDec0+eta*cosDec0, math.Hypot(xi, den))

	return normalizeDeg(rad2deg(ra)), rad2deg(dec), nil
}

// SkyToPixel projects J2000 RA/Dec degrees onto the image. Fails when the
// direction is behind the tangent plane or lands outside the image.
func (m *TanMapper) SkyToPixel(raJ2000, decJ2000 float64) (polaralign.Pixel, error) {
	ra := deg2rad(raJ2000)
	dec := deg2rad(decJ2000)
	ra0 := deg2rad(m.sol.CRVal1)
	dec0 := deg2rad(m.sol.CRVal2)

	sinDec, cosDec := math.Sin(dec), math.Cos(dec)
	sinDec0, cosDec0 := math.Sin(dec0), math.Cos(dec0)
	cosDRA := math.Cos(ra - ra0)

	cosC := sinDec0*sinDec + cosDec0*cosDec*cosDRA
	if cosC <= 0 {
		return polaralign.Pixel{}, fmt.Errorf("direction (%.3f, %.3f) behind tangent plane: %w",
			raJ2000, decJ2000, polaralign.ErrMappingUnavailable)
	}

	xi := rad2deg(cosDec * math.Sin(ra-ra0) / cosC)
	eta := rad2deg((cosDec0*sinDec - sinDec0*cosDec*cosDRA) / cosC)

	p := polaralign.Pixel{
		X: (m.sol.CRPix1 - 1) + m.inv11*xi + m.inv12*eta,
		Y: (m.sol.CRPix2 - 1) + m.inv21*xi + m.inv22*eta,
	}
	if !m.inBounds(p) {
		return polaralign.Pixel{}, fmt.Errorf("direction (%.3f, %.3f) maps outside image: %w",
			raJ2000, decJ2000, polaralign.ErrMappingUnavailable)
	}
	return p, nil
}

func (m *TanMapper) inBounds(p polaralign.Pixel) bool {
	return p.X >= 0 && p.X < float64(m.sol.Width) && p.Y >= 0 && p.Y < float64(m.sol.Height)
}

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}
