package stats

import "math"

// Continued-fraction evaluation bounds.
const (
	betaMaxIterations = 100
	betaEpsilon       = 1e-10
	betaFPMin         = 1e-30
)

// PValue returns the two-tailed significance of a Pearson correlation r over
// n samples, under the null hypothesis of no linear relationship.
//
// With fewer than 3 samples there is no evidence either way, so the p-value
// is 1. A near-perfect correlation short-circuits to 0. Otherwise the
// t-statistic t = r·√(n−2)/√(1−r²) with df = n−2 is converted to a tail
// probability: the normal approximation for df > 30, the regularized
// incomplete beta function I_x(df/2, 1/2) at x = df/(df+t²) for small df.
func PValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	r2 := r * r
	if r2 >= 1-1e-12 {
		return 0
	}

	df := float64(n - 2)
	t := math.Abs(r) * math.Sqrt(df) / math.Sqrt(1-r2)

	var p float64
	if df > 30 {
		// Two-tailed normal tail: 2·(1−Φ(|t|)) = erfc(|t|/√2).
		p = math.Erfc(t / math.Sqrt2)
	} else {
		p = regIncompleteBeta(df/2, 0.5, df/(df+t*t))
	}

	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// regIncompleteBeta evaluates I_x(a, b), the regularized incomplete beta
// function, via a continued-fraction expansion (Numerical Recipes betai).
func regIncompleteBeta(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}

	lgA, _ := math.Lgamma(a)
	lgB, _ := math.Lgamma(b)
	lgAB, _ := math.Lgamma(a + b)
	front := math.Exp(lgAB - lgA - lgB + a*math.Log(x) + b*math.Log(1-x))

	// The continued fraction converges fastest for x < (a+1)/(a+b+2); use the
	// symmetry I_x(a,b) = 1 − I_{1−x}(b,a) on the other side.
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

// betaContinuedFraction runs the modified Lentz algorithm for the incomplete
// beta continued fraction, capped at betaMaxIterations with convergence
// tolerance betaEpsilon.
func betaContinuedFraction(a, b, x float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < betaFPMin {
		d = betaFPMin
	}
	d = 1 / d
	h := d

	for m := 1; m <= betaMaxIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < betaFPMin {
			d = betaFPMin
		}
		c = 1 + aa/c
		if math.Abs(c) < betaFPMin {
			c = betaFPMin
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < betaFPMin {
			d = betaFPMin
		}
		c = 1 + aa/c
		if math.Abs(c) < betaFPMin {
			c = betaFPMin
		}
		d = 1 / d
		del := d * c
		h *= del

		if math.Abs(del-1) < betaEpsilon {
			break
		}
	}
	return h
}
