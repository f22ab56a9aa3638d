package polaralign

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/star/polargo/internal/rotations"
	"github.com/star/polargo/internal/transform"
)

var baseTime = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

// syntheticSession builds a session whose mount axis points at the given
// az/alt: three samples are generated by sweeping a reference point around
// that axis, exactly what the mount does between measurement images.
func syntheticSession(t *testing.T, obs transform.Observer, axisAz, axisAlt float64) *Session {
	t.Helper()
	s := NewSession(obs, 0, nil)
	axis := rotations.FromAzAlt(axisAz, axisAlt)
	p0 := rotations.FromAzAlt(90, 30)
	for i, rot := range []float64{0, 30, 70} {
		p := rotations.RotateAroundAxis(p0, axis, rot)
		az, alt := p.AzAlt()
		dir := transform.FromHorizontal(az, alt, baseTime.Add(time.Duration(i)*4*time.Minute), obs)
		if err := s.AddSample(dir, baseTime.Add(time.Duration(i)*4*time.Minute)); err != nil {
			t.Fatalf("AddSample %d: %v", i, err)
		}
	}
	return s
}

func TestEstimateAxisRecovery(t *testing.T) {
	axis := rotations.FromAzAlt(0.6, 49.45)
	p0 := rotations.FromAzAlt(90, 30)
	p1 := rotations.RotateAroundAxis(p0, axis, 0)
	p2 := rotations.RotateAroundAxis(p0, axis, 30)
	p3 := rotations.RotateAroundAxis(p0, axis, 70)

	got, err := EstimateAxis(p1, p2, p3, true)
	if err != nil {
		t.Fatalf("EstimateAxis: %v", err)
	}
	if math.Abs(got.Az-0.6) > 1e-6 || math.Abs(got.Alt-49.45) > 1e-6 {
		t.Errorf("recovered axis (%.6f, %.6f), want (0.6, 49.45)", got.Az, got.Alt)
	}
}

func TestEstimateAxisHemisphereSign(t *testing.T) {
	// The plane normal is only defined up to sign; reversing the sample
	// order flips it, yet the estimate must still point into the observer's
	// hemisphere.
	axis := rotations.FromAzAlt(359.2, 49.45)
	p0 := rotations.FromAzAlt(90, 30)
	p1 := rotations.RotateAroundAxis(p0, axis, 0)
	p2 := rotations.RotateAroundAxis(p0, axis, 30)
	p3 := rotations.RotateAroundAxis(p0, axis, 70)

	fwd, err := EstimateAxis(p1, p2, p3, true)
	if err != nil {
		t.Fatalf("EstimateAxis forward: %v", err)
	}
	rev, err := EstimateAxis(p3, p2, p1, true)
	if err != nil {
		t.Fatalf("EstimateAxis reversed: %v", err)
	}
	if math.Abs(fwd.Az-rev.Az) > 1e-6 || math.Abs(fwd.Alt-rev.Alt) > 1e-6 {
		t.Errorf("sample order changed the estimate: (%.6f, %.6f) vs (%.6f, %.6f)",
			fwd.Az, fwd.Alt, rev.Az, rev.Alt)
	}

	// Southern axis points toward the south celestial pole.
	south := rotations.FromAzAlt(180.3, 33.6)
	s1 := rotations.RotateAroundAxis(p0, south, 0)
	s2 := rotations.RotateAroundAxis(p0, south, 30)
	s3 := rotations.RotateAroundAxis(p0, south, 70)
	got, err := EstimateAxis(s1, s2, s3, false)
	if err != nil {
		t.Fatalf("EstimateAxis southern: %v", err)
	}
	if math.Abs(got.Az-180.3) > 1e-6 || math.Abs(got.Alt-33.6) > 1e-6 {
		t.Errorf("southern axis (%.6f, %.6f), want (180.3, 33.6)", got.Az, got.Alt)
	}
}

func TestEstimateAxisDegenerate(t *testing.T) {
	p := rotations.FromAzAlt(120, 40)
	if _, err := EstimateAxis(p, p, p, true); !errors.Is(err, ErrDegenerateGeometry) {
		t.Errorf("identical samples: got %v, want ErrDegenerateGeometry", err)
	}
}

func TestAxisToError(t *testing.T) {
	cases := []struct {
		name           string
		axis           AxisEstimate
		lat            float64
		northern       bool
		wantAz, wantAlt float64
	}{
		{"perfect north", AxisEstimate{Az: 0, Alt: 49.25}, 49.25, true, 0, 0},
		{"north high east", AxisEstimate{Az: 0.6, Alt: 49.45}, 49.25, true, 0.6, 0.2},
		{"north west wrap", AxisEstimate{Az: 359.7, Alt: 49.1}, 49.25, true, -0.3, -0.15},
		{"perfect south", AxisEstimate{Az: 180, Alt: 33.5}, -33.5, false, 0, 0},
		{"south offset", AxisEstimate{Az: 180.4, Alt: 33.7}, -33.5, false, 0.4, 0.2},
	}
	for _, tc := range cases {
		got := axisToError(tc.axis, tc.lat, tc.northern)
		if math.Abs(got.Az-tc.wantAz) > 1e-9 || math.Abs(got.Alt-tc.wantAlt) > 1e-9 {
			t.Errorf("%s: got (%.6f, %.6f), want (%.6f, %.6f)",
				tc.name, got.Az, got.Alt, tc.wantAz, tc.wantAlt)
		}
	}
}

func TestSessionAxisAndError(t *testing.T) {
	obs := transform.NewObserver(49.25, -123.1)
	s := syntheticSession(t, obs, 0.6, 49.45)

	if _, ok := s.Axis(); ok {
		t.Fatal("axis present before FindAxis")
	}
	axis, err := s.FindAxis()
	if err != nil {
		t.Fatalf("FindAxis: %v", err)
	}
	if math.Abs(axis.Az-0.6) > 1e-6 || math.Abs(axis.Alt-49.45) > 1e-6 {
		t.Errorf("axis (%.6f, %.6f), want (0.6, 49.45)", axis.Az, axis.Alt)
	}

	perr, err := s.PointingError()
	if err != nil {
		t.Fatalf("PointingError: %v", err)
	}
	if math.Abs(perr.Az-0.6) > 1e-6 || math.Abs(perr.Alt-0.2) > 1e-6 {
		t.Errorf("pointing error (%.6f, %.6f), want (0.6, 0.2)", perr.Az, perr.Alt)
	}
}

func TestCorrectionRotationReachesPole(t *testing.T) {
	// Applying the reported error as a rotation pair must carry the mount
	// axis onto the pole. That is the contract every correction workflow
	// relies on.
	obs := transform.NewObserver(49.25, -123.1)
	s := syntheticSession(t, obs, 0.6, 49.45)
	if _, err := s.FindAxis(); err != nil {
		t.Fatalf("FindAxis: %v", err)
	}
	perr, err := s.PointingError()
	if err != nil {
		t.Fatalf("PointingError: %v", err)
	}

	axisPt := rotations.FromAzAlt(0.6, 49.45)
	corrected := rotations.RotateAroundZ(rotations.RotateAroundY(axisPt, perr.Alt), perr.Az)
	pole := rotations.FromAzAlt(0, 49.25)
	if sep := rotations.Angle(corrected, pole); sep > 0.02 {
		t.Errorf("corrected axis %.4f degrees from pole", sep)
	}
}

func TestSolutionDirections(t *testing.T) {
	obs := transform.NewObserver(49.25, -123.1)
	s := syntheticSession(t, obs, 0.6, 49.45)
	if _, err := s.FindAxis(); err != nil {
		t.Fatalf("FindAxis: %v", err)
	}
	perr, err := s.PointingError()
	if err != nil {
		t.Fatalf("PointingError: %v", err)
	}

	solution, altOnly, err := s.SolutionDirections()
	if err != nil {
		t.Fatalf("SolutionDirections: %v", err)
	}

	third := s.Samples()[2]
	p3 := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	wantAltAz, wantAltAlt := rotations.RotateAroundY(p3, perr.Alt).AzAlt()
	if math.Abs(altOnly.Az-wantAltAz) > 1e-6 || math.Abs(altOnly.Alt-wantAltAlt) > 1e-6 {
		t.Errorf("alt-only direction (%.6f, %.6f), want (%.6f, %.6f)",
			altOnly.Az, altOnly.Alt, wantAltAz, wantAltAlt)
	}
	// The full solution additionally applies the azimuth correction.
	full := rotations.RotateAroundZ(rotations.FromAzAlt(wantAltAz, wantAltAlt), perr.Az)
	wantAz, wantAlt := full.AzAlt()
	if math.Abs(solution.Az-wantAz) > 1e-6 || math.Abs(solution.Alt-wantAlt) > 1e-6 {
		t.Errorf("solution direction (%.6f, %.6f), want (%.6f, %.6f)",
			solution.Az, solution.Alt, wantAz, wantAlt)
	}
}

func TestSessionLimits(t *testing.T) {
	obs := transform.NewObserver(49.25, -123.1)
	s := NewSession(obs, 0, nil)

	if _, err := s.FindAxis(); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("FindAxis empty: got %v", err)
	}
	if _, err := s.PointingError(); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("PointingError empty: got %v", err)
	}
	if _, err := s.ProcessRefresh(40, 89, baseTime); !errors.Is(err, ErrInsufficientSamples) {
		t.Errorf("ProcessRefresh empty: got %v", err)
	}

	dir := transform.FromHorizontal(90, 30, baseTime, obs)
	for i := 0; i < 3; i++ {
		if err := s.AddSample(dir, baseTime); err != nil {
			t.Fatalf("AddSample %d: %v", i, err)
		}
	}
	if err := s.AddSample(dir, baseTime); !errors.Is(err, ErrSessionFull) {
		t.Errorf("fourth sample: got %v, want ErrSessionFull", err)
	}
	if s.SampleCount() != 3 {
		t.Errorf("SampleCount = %d after rejected add", s.SampleCount())
	}

	s.Reset()
	if s.SampleCount() != 0 {
		t.Errorf("SampleCount = %d after Reset", s.SampleCount())
	}
	if _, ok := s.Axis(); ok {
		t.Error("axis survived Reset")
	}
}

func TestSetMaxPixelSearchRange(t *testing.T) {
	obs := transform.NewObserver(49.25, -123.1)
	s := NewSession(obs, 0, nil)
	cases := []struct{ in, want float64 }{
		{0, 2}, {1.5, 2}, {-3, 3}, {4.5, 4.5}, {10, 10}, {25, 10},
	}
	for _, tc := range cases {
		s.SetMaxPixelSearchRange(tc.in)
		if s.maxPixelSearchRange != tc.want {
			t.Errorf("SetMaxPixelSearchRange(%v): range %v, want %v", tc.in, s.maxPixelSearchRange, tc.want)
		}
	}
}

func TestProcessRefreshUntouchedKnobs(t *testing.T) {
	// A refresh image taken with untouched knobs differs from the third
	// sample only by sidereal tracking, so the adjustment must come out
	// near zero and the axis must hold.
	obs := transform.NewObserver(49.25, -123.1)
	s := syntheticSession(t, obs, 0.6, 49.45)
	if _, err := s.FindAxis(); err != nil {
		t.Fatalf("FindAxis: %v", err)
	}

	third := s.Samples()[2]
	refreshTime := third.Time.Add(2 * time.Minute)
	secs := refreshTime.Sub(third.Time).Seconds()
	track := -(transform.SiderealRateDegPerHour * secs) / 3600.0

	axisPt := rotations.FromAzAlt(0.6, 49.45)
	p3 := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	tracked := rotations.RotateAroundAxis(p3, axisPt, track)
	az, alt := tracked.AzAlt()
	dir := transform.FromHorizontal(az, alt, refreshTime, obs)

	res, err := s.ProcessRefresh(dir.RAJ2000, dir.DecJ2000, refreshTime)
	if err != nil {
		t.Fatalf("ProcessRefresh: %v", err)
	}
	if math.Abs(res.AzAdjustment) > 0.003 || math.Abs(res.AltAdjustment) > 0.003 {
		t.Errorf("adjustment (%.5f, %.5f), want near zero", res.AzAdjustment, res.AltAdjustment)
	}
	if math.Abs(res.Axis.Az-0.6) > 0.01 || math.Abs(res.Axis.Alt-49.45) > 0.01 {
		t.Errorf("axis drifted to (%.4f, %.4f)", res.Axis.Az, res.Axis.Alt)
	}
	if res.Residual > 0.002 {
		t.Errorf("residual %.5f degrees", res.Residual)
	}

	// Refresh reports against the original axis; it never rewrites it.
	axis, ok := s.Axis()
	if !ok || math.Abs(axis.Az-0.6) > 1e-6 || math.Abs(axis.Alt-49.45) > 1e-6 {
		t.Errorf("session axis changed to (%.6f, %.6f)", axis.Az, axis.Alt)
	}
}

func TestProcessRefreshRecoversAdjustment(t *testing.T) {
	obs := transform.NewObserver(49.25, -123.1)
	s := syntheticSession(t, obs, 0.6, 49.45)
	if _, err := s.FindAxis(); err != nil {
		t.Fatalf("FindAxis: %v", err)
	}

	const (
		altKnob = 0.1
		azKnob  = -0.15
	)
	third := s.Samples()[2]
	refreshTime := third.Time.Add(90 * time.Second)
	secs := refreshTime.Sub(third.Time).Seconds()
	track := -(transform.SiderealRateDegPerHour * secs) / 3600.0

	axisPt := rotations.FromAzAlt(0.6, 49.45)
	p3 := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	tracked := rotations.RotateAroundAxis(p3, axisPt, track)
	moved := rotations.RotateAroundZ(rotations.RotateAroundY(tracked, altKnob), azKnob)
	az, alt := moved.AzAlt()
	dir := transform.FromHorizontal(az, alt, refreshTime, obs)

	res, err := s.ProcessRefresh(dir.RAJ2000, dir.DecJ2000, refreshTime)
	if err != nil {
		t.Fatalf("ProcessRefresh: %v", err)
	}
	if math.Abs(res.AltAdjustment-altKnob) > 0.003 || math.Abs(res.AzAdjustment-azKnob) > 0.003 {
		t.Errorf("adjustment (%.5f, %.5f), want (%.2f, %.2f)",
			res.AzAdjustment, res.AltAdjustment, azKnob, altKnob)
	}

	wantAxisPt := rotations.RotateAroundZ(rotations.RotateAroundY(axisPt, altKnob), azKnob)
	wantAz, wantAlt := wantAxisPt.AzAlt()
	if math.Abs(res.Axis.Az-wantAz) > 0.01 || math.Abs(res.Axis.Alt-wantAlt) > 0.01 {
		t.Errorf("axis (%.4f, %.4f), want (%.4f, %.4f)", res.Axis.Az, res.Axis.Alt, wantAz, wantAlt)
	}
}

func TestProcessRefreshSouthernHemisphere(t *testing.T) {
	obs := transform.NewObserver(-33.5, 151.2)
	s := syntheticSession(t, obs, 180.4, 33.7)
	if _, err := s.FindAxis(); err != nil {
		t.Fatalf("FindAxis: %v", err)
	}
	perr, err := s.PointingError()
	if err != nil {
		t.Fatalf("PointingError: %v", err)
	}
	if math.Abs(perr.Az-0.4) > 1e-6 || math.Abs(perr.Alt-0.2) > 1e-6 {
		t.Errorf("southern pointing error (%.6f, %.6f), want (0.4, 0.2)", perr.Az, perr.Alt)
	}

	third := s.Samples()[2]
	refreshTime := third.Time.Add(2 * time.Minute)
	secs := refreshTime.Sub(third.Time).Seconds()
	track := -(transform.SiderealRateDegPerHour * secs) / 3600.0

	axisPt := rotations.FromAzAlt(180.4, 33.7)
	p3 := rotations.FromAzAlt(third.Direction.Az, third.Direction.Alt)
	tracked := rotations.RotateAroundAxis(p3, axisPt, track)
	az, alt := tracked.AzAlt()
	dir := transform.FromHorizontal(az, alt, refreshTime, obs)

	res, err := s.ProcessRefresh(dir.RAJ2000, dir.DecJ2000, refreshTime)
	if err != nil {
		t.Fatalf("ProcessRefresh: %v", err)
	}
	if math.Abs(res.Error.Az-0.4) > 0.01 || math.Abs(res.Error.Alt-0.2) > 0.01 {
		t.Errorf("refresh error (%.4f, %.4f), want (0.4, 0.2)", res.Error.Az, res.Error.Alt)
	}
}
