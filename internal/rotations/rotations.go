// Package rotations implements the 3D unit-vector math used by the
// polar-alignment solver: conversions between horizontal (azimuth/altitude)
// coordinates and Cartesian unit vectors, rotations around the Y axis, the
// Z axis, and an arbitrary axis, and great-circle angular separation.
//
// Coordinate convention: X points toward the north horizon (azimuth 0°),
// Y toward the east horizon (azimuth 90°), Z toward the zenith. All angles
// cross package boundaries in degrees.
//
// Rotation convention: RotateAroundZ and RotateAroundAxis rotate clockwise
// when viewed from the positive end of the rotation axis, so a rotation
// around the axis (0,0,1) is identical to RotateAroundZ. RotateAroundY uses
// the opposite sense, chosen so that a positive angle lowers the altitude of
// a point at azimuth 0; RotateAroundAxis around (0,1,0) is therefore the
// inverse of RotateAroundY, and one must not be substituted for the other.
package rotations

import "math"

// Vector3 is a point on (or direction from the center of) the unit sphere.
type Vector3 struct {
	X, Y, Z float64
}

func deg2rad(d float64) float64 { return d * math.Pi / 180.0 }
func rad2deg(r float64) float64 { return r * 180.0 / math.Pi }

// Length returns the Euclidean norm of v.
func (v Vector3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - u.
func (v Vector3) Sub(u Vector3) Vector3 {
	return Vector3{X: v.X - u.X, Y: v.Y - u.Y, Z: v.Z - u.Z}
}

// Neg returns the antipodal vector.
func (v Vector3) Neg() Vector3 {
	return Vector3{X: -v.X, Y: -v.Y, Z: -v.Z}
}

// Dot returns the dot product of v and u.
func (v Vector3) Dot(u Vector3) float64 {
	return v.X*u.X + v.Y*u.Y + v.Z*u.Z
}

// Cross returns the cross product v x u.
func (v Vector3) Cross(u Vector3) Vector3 {
	return Vector3{
		X: v.Y*u.Z - v.Z*u.Y,
		Y: v.Z*u.X - v.X*u.Z,
		Z: v.X*u.Y - v.Y*u.X,
	}
}

// FromAzAlt converts horizontal coordinates (degrees) to a unit vector.
// It is the exact inverse of AzAlt away from the zenith and nadir.
func FromAzAlt(azDeg, altDeg float64) Vector3 {
	az := deg2rad(azDeg)
	alt := deg2rad(altDeg)
	cosAlt := math.Cos(alt)
	return Vector3{
		X: cosAlt * math.Cos(az),
		Y: cosAlt * math.Sin(az),
		Z: math.Sin(alt),
	}
}

// AzAlt converts a unit vector back to horizontal coordinates (degrees).
// Azimuth is normalized to [0, 360). At the zenith and nadir the azimuth is
// undefined; 0 is returned there.
func (v Vector3) AzAlt() (azDeg, altDeg float64) {
	r := math.Hypot(v.X, v.Y)
	if r < 1e-12 {
		if v.Z >= 0 {
			return 0, 90
		}
		return 0, -90
	}
	az := rad2deg(math.Atan2(v.Y, v.X))
	if az < 0 {
		az += 360
	}
	return az, rad2deg(math.Atan2(v.Z, r))
}

// RotateAroundY rotates v around the Y axis by degrees.
// A positive angle lowers the altitude of points near azimuth 0.
func RotateAroundY(v Vector3, degrees float64) Vector3 {
	a := deg2rad(degrees)
	c, s := math.Cos(a), math.Sin(a)
	return Vector3{
		X: v.X*c + v.Z*s,
		Y: v.Y,
		Z: -v.X*s + v.Z*c,
	}
}

// RotateAroundZ rotates v around the Z axis by degrees.
// A positive angle decreases azimuth.
func RotateAroundZ(v Vector3, degrees float64) Vector3 {
	a := deg2rad(degrees)
	c, s := math.Cos(a), math.Sin(a)
	return Vector3{
		X: v.X*c + v.Y*s,
		Y: -v.X*s + v.Y*c,
		Z: v.Z,
	}
}

// RotateAroundAxis rotates v around an arbitrary unit axis by degrees using
// Rodrigues' rotation formula, clockwise viewed from the positive end of the
// axis. For the Z axis this matches RotateAroundZ; for the Y axis it is the
// inverse of RotateAroundY, whose sign is flipped to track altitude.
func RotateAroundAxis(v, axis Vector3, degrees float64) Vector3 {
	a := deg2rad(degrees)
	c, s := math.Cos(a), math.Sin(a)
	k := axis
	kxv := k.Cross(v)
	kv := k.Dot(v) * (1 - c)
	return Vector3{
		X: v.X*c - kxv.X*s + k.X*kv,
		Y: v.Y*c - kxv.Y*s + k.Y*kv,
		Z: v.Z*c - kxv.Z*s + k.Z*kv,
	}
}

// Angle returns the great-circle angular separation between two unit
// vectors, in degrees. The result is always in [0, 180].
func Angle(v, u Vector3) float64 {
	d := v.Dot(u)
	// Guard against rounding pushing the dot product outside [-1, 1].
	if d > 1 {
		d = 1
	} else if d < -1 {
		d = -1
	}
	return rad2deg(math.Acos(d))
}

// PlaneNormal returns the unit normal of the plane through three points,
// computed from the chords p2-p1 and p3-p2. If the points are collinear or
// coincident the cross product cannot be normalized and the raw (short)
// vector is returned; callers detect that case by checking Length.
func PlaneNormal(p1, p2, p3 Vector3) Vector3 {
	n := p2.Sub(p1).Cross(p3.Sub(p2))
	l := n.Length()
	if l < 1e-12 {
		return n
	}
	return Vector3{X: n.X / l, Y: n.Y / l, Z: n.Z / l}
}
