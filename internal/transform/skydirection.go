package transform

import (
	"math"
	"time"
)

// Observer holds a ground observer's geographic location. Latitude is signed
// degrees (north positive), longitude east-positive degrees. The latitude
// sines/cosines are precomputed once so they can be reused across many
// coordinate conversions.
type Observer struct {
	LatDeg, LonDeg float64
	sinLat, cosLat float64
}

// NewObserver creates an Observer from geographic coordinates in degrees.
func NewObserver(latDeg, lonDeg float64) Observer {
	lat := deg2rad(latDeg)
	return Observer{
		LatDeg: latDeg,
		LonDeg: lonDeg,
		sinLat: math.Sin(lat),
		cosLat: math.Cos(lat),
	}
}

// NorthernHemisphere reports whether the observer is north of the equator.
func (o Observer) NorthernHemisphere() bool {
	return o.LatDeg > 0
}

// SkyDirection is a sky position carrying catalogue (J2000.0) equatorial
// coordinates, the equatorial coordinates of date, and the local horizontal
// coordinates derived for a specific observation time and observer. All
// fields are degrees. A SkyDirection is immutable once computed; when the
// time or location context changes a new one is derived, never mutated.
type SkyDirection struct {
	RAJ2000, DecJ2000 float64 // catalogue equinox
	RA, Dec           float64 // equinox of date
	Az, Alt           float64 // horizontal, at the observation time
}

// FromCatalog derives a SkyDirection from catalogue (J2000.0) equatorial
// coordinates for the given observation time and observer: the coordinates
// are precessed to the equinox of date, then converted to azimuth/altitude.
func FromCatalog(raJ2000, decJ2000 float64, t time.Time, obs Observer) SkyDirection {
	jd := JulianDate(t)
	ra, dec := PrecessFromJ2000(raJ2000, decJ2000, jd)
	az, alt := equatorialToHorizontal(ra, dec, LST(t, obs.LonDeg), obs)
	return SkyDirection{
		RAJ2000: raJ2000, DecJ2000: decJ2000,
		RA: ra, Dec: dec,
		Az: az, Alt: alt,
	}
}

// FromHorizontal derives a SkyDirection from azimuth/altitude at the given
// observation time: the horizontal coordinates are converted to the equinox
// of date and then deprecessed back to J2000.0.
func FromHorizontal(azDeg, altDeg float64, t time.Time, obs Observer) SkyDirection {
	jd := JulianDate(t)
	ra, dec := horizontalToEquatorial(azDeg, altDeg, LST(t, obs.LonDeg), obs)
	ra0, dec0 := PrecessToJ2000(ra, dec, jd)
	return SkyDirection{
		RAJ2000: ra0, DecJ2000: dec0,
		RA: ra, Dec: dec,
		Az: azDeg, Alt: altDeg,
	}
}

// equatorialToHorizontal converts mean-of-date RA/Dec to azimuth/altitude.
// Azimuth is measured from north through east, normalized to [0, 360).
func equatorialToHorizontal(raDeg, decDeg, lstDeg float64, obs Observer) (azDeg, altDeg float64) {
	ha := deg2rad(lstDeg - raDeg)
	dec := deg2rad(decDeg)

	sinDec, cosDec := math.Sin(dec), math.Cos(dec)
	cosHA := math.Cos(ha)

	// Components of the direction in the north/east/up frame.
	up := obs.sinLat*sinDec + obs.cosLat*cosDec*cosHA
	north := obs.cosLat*sinDec - obs.sinLat*cosDec*cosHA
	east := -cosDec * math.Sin(ha)

	azDeg = normalizeDeg(rad2deg(math.Atan2(east, north)))
	altDeg = rad2deg(math.Asin(clamp1(up)))
	return azDeg, altDeg
}

// horizontalToEquatorial converts azimuth/altitude back to mean-of-date
// RA/Dec. Exact inverse of equatorialToHorizontal for the same LST.
func horizontalToEquatorial(azDeg, altDeg, lstDeg float64, obs Observer) (raDeg, decDeg float64) {
	az := deg2rad(azDeg)
	alt := deg2rad(altDeg)

	sinAlt, cosAlt := math.Sin(alt), math.Cos(alt)
	cosAz := math.Cos(az)

	sinDec := obs.cosLat*cosAlt*cosAz + obs.sinLat*sinAlt
	haY := -cosAlt * math.Sin(az)
	haX := -obs.sinLat*cosAlt*cosAz + obs.cosLat*sinAlt

	ha := rad2deg(math.Atan2(haY, haX))
	raDeg = normalizeDeg(lstDeg - ha)
	decDeg = rad2deg(math.Asin(clamp1(sinDec)))
	return raDeg, decDeg
}
