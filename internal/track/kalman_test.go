package track

import (
	"math"
	"testing"
)

func TestKalmanConvergesToStationaryTarget(t *testing.T) {
	k := newKalman(0, 0, 4, 2, 10)
	for i := 0; i < 50; i++ {
		k.Predict(0.1)
		k.Update(100, 200)
	}
	if math.Abs(k.X-100) > 1 || math.Abs(k.Y-200) > 1 {
		t.Fatalf("did not converge: x=%v y=%v", k.X, k.Y)
	}
	if math.Abs(k.VX) > 1 || math.Abs(k.VY) > 1 {
		t.Fatalf("residual velocity: vx=%v vy=%v", k.VX, k.VY)
	}
}

func TestKalmanTracksConstantVelocity(t *testing.T) {
	k := newKalman(0, 0, 4, 2, 10)
	// Target moves 50 px/s in x.
	for i := 1; i <= 50; i++ {
		k.Predict(0.1)
		k.Update(float64(i)*5, 0)
	}
	if math.Abs(k.VX-50) > 10 {
		t.Fatalf("velocity estimate off: vx=%v", k.VX)
	}
	// Coasting continues along the estimate.
	before := k.X
	k.Predict(0.5)
	if k.X <= before {
		t.Fatalf("coast did not advance: before=%v after=%v", before, k.X)
	}
}

func TestKalmanSmoothsJitter(t *testing.T) {
	k := newKalman(100, 100, 4, 2, 10)
	jitter := []float64{108, 93, 106, 95, 104, 97, 103}
	for _, z := range jitter {
		k.Predict(0.1)
		k.Update(z, 100)
	}
	if math.Abs(k.X-100) > 6 {
		t.Fatalf("over-reacted to jitter: x=%v", k.X)
	}
}

func TestKalmanGuardResetsOnNaN(t *testing.T) {
	k := newKalman(10, 10, 4, 2, 10)
	k.Update(math.NaN(), 0)
	if math.IsNaN(k.X) || math.IsNaN(k.Y) {
		t.Fatalf("NaN survived the guard: x=%v y=%v", k.X, k.Y)
	}
}
