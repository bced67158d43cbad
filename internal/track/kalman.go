package track

import "math"

// Internal numerical stability constants — not user-tunable.
const (
	// minDeterminantThreshold is the minimum determinant for innovation
	// covariance inversion.
	minDeterminantThreshold = 1e-9
	// maxCovarianceDiag caps covariance growth over long coasting runs.
	maxCovarianceDiag = 1e6
)

// kalman is a 2D constant-velocity filter over frame coordinates.
// State vector is [x, y, vx, vy]; P is the 4x4 covariance, row-major.
// Unmatched frames call Predict without a following Update, so the
// estimate coasts on the last velocity.
type kalman struct {
	X, Y   float64
	VX, VY float64
	P      [16]float64

	processNoisePos  float64
	processNoiseVel  float64
	measurementNoise float64
}

// newKalman initialises the filter at a first measurement with high
// position uncertainty and modest velocity uncertainty.
func newKalman(x, y, processNoisePos, processNoiseVel, measurementNoise float64) *kalman {
	return &kalman{
		X: x,
		Y: y,
		P: [16]float64{
			10, 0, 0, 0,
			0, 10, 0, 0,
			0, 0, 1, 0,
			0, 0, 0, 1,
		},
		processNoisePos:  processNoisePos,
		processNoiseVel:  processNoiseVel,
		measurementNoise: measurementNoise,
	}
}

// Predict applies the constant-velocity prediction step for a time
// delta of dt seconds.
func (k *kalman) Predict(dt float64) {
	if dt <= 0 {
		return
	}

	// State transition F for constant velocity:
	// F = [1 0 dt 0; 0 1 0 dt; 0 0 1 0; 0 0 0 1]
	k.X += k.VX * dt
	k.Y += k.VY * dt

	// P' = F * P * F^T + Q, computed directly.
	P := k.P
	var FP [16]float64
	for j := 0; j < 4; j++ {
		FP[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		FP[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		FP[2*4+j] = P[2*4+j]
		FP[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		k.P[i*4+0] = FP[i*4+0] + dt*FP[i*4+2]
		k.P[i*4+1] = FP[i*4+1] + dt*FP[i*4+3]
		k.P[i*4+2] = FP[i*4+2]
		k.P[i*4+3] = FP[i*4+3]
	}

	// Process noise scaled by dt for frame-rate independence.
	k.P[0*4+0] += k.processNoisePos * dt
	k.P[1*4+1] += k.processNoisePos * dt
	k.P[2*4+2] += k.processNoiseVel * dt
	k.P[3*4+3] += k.processNoiseVel * dt

	for i := 0; i < 4; i++ {
		if k.P[i*4+i] > maxCovarianceDiag {
			k.P[i*4+i] = maxCovarianceDiag
		}
	}

	k.guard()
}

// Update applies the measurement update for an observed position.
func (k *kalman) Update(zx, zy float64) {
	// Innovation
	yX := zx - k.X
	yY := zy - k.Y

	// Innovation covariance S = H*P*H^T + R, H extracting position.
	S00 := k.P[0*4+0] + k.measurementNoise
	S01 := k.P[0*4+1]
	S10 := k.P[1*4+0]
	S11 := k.P[1*4+1] + k.measurementNoise

	det := S00*S11 - S01*S10
	if det < minDeterminantThreshold {
		return // singular covariance, skip the update
	}

	invS00 := S11 / det
	invS01 := -S01 / det
	invS10 := -S10 / det
	invS11 := S00 / det

	// Kalman gain K = P * H^T * S^-1 (4x2).
	var K [8]float64
	for i := 0; i < 4; i++ {
		K[i*2+0] = k.P[i*4+0]*invS00 + k.P[i*4+1]*invS10
		K[i*2+1] = k.P[i*4+0]*invS01 + k.P[i*4+1]*invS11
	}

	// x' = x + K*y
	k.X += K[0*2+0]*yX + K[0*2+1]*yY
	k.Y += K[1*2+0]*yX + K[1*2+1]*yY
	k.VX += K[2*2+0]*yX + K[2*2+1]*yY
	k.VY += K[3*2+0]*yX + K[3*2+1]*yY

	// P' = (I - K*H) * P
	var IminusKH [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			var kh float64
			if j == 0 {
				kh = K[i*2+0]
			} else if j == 1 {
				kh = K[i*2+1]
			}
			IminusKH[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for m := 0; m < 4; m++ {
				sum += IminusKH[i*4+m] * k.P[m*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	k.P = newP

	k.guard()
}

// guard resets the filter if any state element went NaN/Inf.
func (k *kalman) guard() {
	for _, v := range []float64{k.X, k.Y, k.VX, k.VY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			k.reset()
			return
		}
	}
	for i := 0; i < 4; i++ {
		v := k.P[i*4+i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			k.reset()
			return
		}
	}
}

func (k *kalman) reset() {
	k.X, k.Y, k.VX, k.VY = 0, 0, 0, 0
	k.P = [16]float64{
		10, 0, 0, 0,
		0, 10, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
