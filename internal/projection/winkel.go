// Package projection implements the Winkel Tripel projection and the
// transform between geographic, projection and pixel space.
package projection

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/jobrunner/climap/internal/domain"
)

// Inverse solver limits.
const (
	Tolerance     = 1e-6
	MaxIterations = 20
)

const (
	halfPi = math.Pi / 2
	// cos(phi1) for the standard parallel phi1 = arccos(2/pi).
	cosPhi1 = 2 / math.Pi
	degrees = 180 / math.Pi
	radians = math.Pi / 180
	// The Winkel outline bulges past its inscribed ellipse toward the pole
	// corners; the largest ratio along the outline is about 1.151.
	outlineSlack = 1.16
)

// Bounds is the extent of the Winkel Tripel output in projection units.
var Bounds = domain.NewProjectionBounds(1+halfPi, halfPi)

// Forward projects a geographic point in degrees to projection units. It is
// the mean of the Aitoff and equirectangular projections.
func Forward(lonDeg, latDeg float64) (x, y float64) {
	lambda := domain.WrapLon(lonDeg) * radians
	phi := math.Max(-90, math.Min(90, latDeg)) * radians

	cosPhi := math.Cos(phi)
	alpha := math.Acos(clampUnit(cosPhi * math.Cos(lambda/2)))

	// sinc(alpha) -> 1 as alpha -> 0, which happens only at the origin.
	sincAlpha := 1.0
	if alpha > 1e-12 {
		sincAlpha = math.Sin(alpha) / alpha
	}

	x = 0.5 * (lambda*cosPhi1 + 2*cosPhi*math.Sin(lambda/2)/sincAlpha)
	y = 0.5 * (phi + math.Sin(phi)/sincAlpha)
	return x, y
}

// Inverse solves for the geographic point that projects to (x, y). It returns
// false when the point lies outside the projection outline or the Newton
// iteration does not converge within MaxIterations.
func Inverse(x, y float64) (domain.GeoPoint, bool) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return domain.GeoPoint{}, false
	}
	if Bounds.FootprintRatio(x, y) > outlineSlack {
		return domain.GeoPoint{}, false
	}

	switch {
	case math.Abs(x) < Tolerance && math.Abs(y) < Tolerance:
		return domain.GeoPoint{}, true
	case math.Abs(x) < Tolerance && math.Abs(math.Abs(y)-halfPi) < Tolerance:
		return domain.GeoPoint{Lon: 0, Lat: math.Copysign(90, y)}, true
	}

	// Starting from the equirectangular guess keeps the first step inside
	// the outline for every valid point.
	lambda := x / Bounds.XMax * math.Pi
	phi := y / Bounds.YMax * halfPi

	jac := mat.NewDense(2, 2, nil)
	residual := mat.NewVecDense(2, nil)
	var step mat.VecDense

	for i := 0; i < MaxIterations; i++ {
		fx, fy, dxdl, dxdp, dydl, dydp := residualAndJacobian(lambda, phi, x, y)
		if math.Hypot(fx, fy) < Tolerance {
			return toGeoPoint(lambda, phi)
		}

		jac.Set(0, 0, dxdl)
		jac.Set(0, 1, dxdp)
		jac.Set(1, 0, dydl)
		jac.Set(1, 1, dydp)
		residual.SetVec(0, fx)
		residual.SetVec(1, fy)

		if err := step.SolveVec(jac, residual); err != nil {
			return domain.GeoPoint{}, false
		}

		lambda -= step.AtVec(0)
		phi -= step.AtVec(1)

		// Keep iterates near the domain so trig terms stay well defined.
		lambda = math.Max(-1.05*math.Pi, math.Min(1.05*math.Pi, lambda))
		phi = math.Max(-halfPi, math.Min(halfPi, phi))
	}

	fx, fy, _, _, _, _ := residualAndJacobian(lambda, phi, x, y)
	if math.Hypot(fx, fy) < Tolerance {
		return toGeoPoint(lambda, phi)
	}
	return domain.GeoPoint{}, false
}

// residualAndJacobian evaluates forward(lambda, phi) - (x, y) and its
// partial derivatives in radians.
func residualAndJacobian(lambda, phi, x, y float64) (fx, fy, dxdl, dxdp, dydl, dydp float64) {
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)
	sin2Phi := math.Sin(2 * phi)
	sinPhiSq, cosPhiSq := sinPhi*sinPhi, cosPhi*cosPhi
	sinLambda := math.Sin(lambda)
	cosHalf, sinHalf := math.Cos(lambda/2), math.Sin(lambda/2)
	sinHalfSq := sinHalf * sinHalf

	c := 1 - cosPhiSq*cosHalf*cosHalf // sin^2(alpha)
	if c < 1e-12 {
		// Origin: alpha/sin(alpha) -> 1 and the Jacobian is diagonal.
		fx = 0.5*(2*cosPhi*sinHalf+lambda*cosPhi1) - x
		fy = 0.5*(sinPhi+phi) - y
		return fx, fy, 0.5 + 0.5*cosPhi1, 0, 0, 1
	}

	f := 1 / c
	e := math.Acos(clampUnit(cosPhi*cosHalf)) * math.Sqrt(f) // alpha / sin(alpha)

	fx = 0.5*(2*e*cosPhi*sinHalf+lambda*cosPhi1) - x
	fy = 0.5*(e*sinPhi+phi) - y

	dxdl = 0.5*f*(cosPhiSq*sinHalfSq+e*cosPhi*cosHalf*sinPhiSq) + 0.5*cosPhi1
	dxdp = f * (sinLambda*sin2Phi/4 - e*sinPhi*sinHalf)
	dydl = 0.125 * f * (sin2Phi*sinHalf - e*sinPhi*cosPhiSq*sinLambda)
	dydp = 0.5*f*(sinPhiSq*cosHalf+e*sinHalfSq*cosPhi) + 0.5
	return fx, fy, dxdl, dxdp, dydl, dydp
}

func toGeoPoint(lambda, phi float64) (domain.GeoPoint, bool) {
	lon := lambda * degrees
	lat := phi * degrees
	if math.IsNaN(lon) || math.IsNaN(lat) || math.Abs(lon) > 180+1e-6 || math.Abs(lat) > 90+1e-6 {
		return domain.GeoPoint{}, false
	}
	return domain.GeoPoint{
		Lon: math.Max(-180, math.Min(180, lon)),
		Lat: math.Max(-90, math.Min(90, lat)),
	}, true
}

func clampUnit(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
