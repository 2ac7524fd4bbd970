package pt

import "math"

const (
	eulerGamma = 0.5772156649015329
	expintEps  = 1e-15
	expintIter = 200
)

// expn returns the exponential integral E_n(x) for n >= 1 and x >= 0,
// using the continued fraction for x > 1 and the power series otherwise.
func expn(n int, x float64) float64 {
	switch {
	case x < 0 || n < 1:
		return math.NaN()
	case x == 0:
		if n == 1 {
			return math.Inf(1)
		}
		return 1 / float64(n-1)
	case math.IsInf(x, 1):
		return 0
	}

	nm1 := n - 1
	if x > 1 {
		b := x + float64(n)
		c := 1e300
		d := 1 / b
		h := d
		for i := 1; i <= expintIter; i++ {
			an := -float64(i * (nm1 + i))
			b += 2
			d = 1 / (an*d + b)
			c = b + an/c
			del := c * d
			h *= del
			if math.Abs(del-1) < expintEps {
				break
			}
		}
		return h * math.Exp(-x)
	}

	var ans float64
	if nm1 != 0 {
		ans = 1 / float64(nm1)
	} else {
		ans = -math.Log(x) - eulerGamma
	}
	fact := 1.0
	for i := 1; i <= expintIter; i++ {
		fact *= -x / float64(i)
		var del float64
		if i != nm1 {
			del = -fact / float64(i-nm1)
		} else {
			psi := -eulerGamma
			for ii := 1; ii <= nm1; ii++ {
				psi += 1 / float64(ii)
			}
			del = fact * (-math.Log(x) + psi)
		}
		ans += del
		if math.Abs(del) < math.Abs(ans)*expintEps {
			break
		}
	}
	return ans
}
