package transform

import "math"

// precessionAngles returns the IAU-1976 precession angles zeta, z, theta (in
// degrees) from J2000.0 to the epoch of the given Julian Date.
// Coefficients per Meeus "Astronomical Algorithms" Eq 21.2.
func precessionAngles(jd float64) (zeta, z, theta float64) {
	T := (jd - j2000) / 36525.0
	T2 := T * T
	T3 := T2 * T
	// Arcseconds.
	zeta = 2306.2181*T + 0.30188*T2 + 0.017998*T3
	z = 2306.2181*T + 1.09468*T2 + 0.018203*T3
	theta = 2004.3109*T - 0.42665*T2 - 0.041833*T3
	return zeta / 3600.0, z / 3600.0, theta / 3600.0
}

// PrecessFromJ2000 converts catalogue (J2000.0) equatorial coordinates to the
// mean equinox of the epoch given by jd. All angles in degrees.
func PrecessFromJ2000(raJ2000, decJ2000, jd float64) (ra, dec float64) {
	zeta, z, theta := precessionAngles(jd)

	a := deg2rad(raJ2000 + zeta)
	d0 := deg2rad(decJ2000)
	th := deg2rad(theta)

	A := math.Cos(d0) * math.Sin(a)
	B := math.Cos(th)*math.Cos(d0)*math.Cos(a) - math.Sin(th)*math.Sin(d0)
	C := math.Sin(th)*math.Cos(d0)*math.Cos(a) + math.Cos(th)*math.Sin(d0)

	ra = normalizeDeg(rad2deg(math.Atan2(A, B)) + z)
	dec = rad2deg(math.Asin(clamp1(C)))
	return ra, dec
}

// PrecessToJ2000 converts mean-of-date equatorial coordinates back to the
// J2000.0 equinox. It is the inverse of PrecessFromJ2000 for the same jd.
func PrecessToJ2000(ra, dec, jd float64) (raJ2000, decJ2000 float64) {
	zeta, z, theta := precessionAngles(jd)

	a := deg2rad(ra - z)
	d := deg2rad(dec)
	th := deg2rad(theta)

	A := math.Cos(d) * math.Sin(a)
	B := math.Cos(th)*math.Cos(d)*math.Cos(a) + math.Sin(th)*math.Sin(d)
	C := -math.Sin(th)*math.Cos(d)*math.Cos(a) + math.Cos(th)*math.Sin(d)

	raJ2000 = normalizeDeg(rad2deg(math.Atan2(A, B)) - zeta)
	decJ2000 = rad2deg(math.Asin(clamp1(C)))
	return raJ2000, decJ2000
}

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

// normalizeDeg wraps an angle into [0, 360).
func normalizeDeg(d float64) float64 {
	d = math.Mod(d, 360.0)
	if d < 0 {
		d += 360.0
	}
	return d
}

// clamp1 limits x to [-1, 1] so rounding noise cannot produce NaN from Asin.
func clamp1(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}
