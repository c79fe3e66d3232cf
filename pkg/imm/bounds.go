package imm

import "math"

// logCnk returns log(C(n, k)) as a sum of logs, clamped to be non-negative.
// k outside [0, n] is clamped into range.
func logCnk(n, k int) float64 {
	if k < 0 {
		k = 0
	}
	if k > n {
		k = n
	}
	ans := 0.0
	for i := n - k + 1; i <= n; i++ {
		ans += math.Log(float64(i))
	}
	for i := 1; i <= k; i++ {
		ans -= math.Log(float64(i))
	}
	return math.Max(ans, 0)
}

// epochTarget is the sample count c_i for doubling epoch i.
func epochTarget(n, k, epoch int, epsPrime, ell float64) float64 {
	logN := math.Log(float64(n))
	return (2.0 + 2.0/3.0*epsPrime) *
		(ell*logN + logCnk(n, k) + math.Log(math.Log2(float64(n)))) *
		math.Pow(2.0, float64(epoch)) / (epsPrime * epsPrime)
}

// finalTarget is the sample count that certifies a (1-1/e-eps)
// approximation given a lower bound lb on the optimum spread.
func finalTarget(n, k int, lb, eps, ell float64) float64 {
	logN := math.Log(float64(n))
	e := 1.0 - 1.0/math.E
	alpha := math.Sqrt(ell*logN + math.Ln2)
	beta := math.Sqrt(e * (logCnk(n, k) + ell*logN + math.Ln2))
	return 2.0 * float64(n) * math.Pow(e*alpha+beta, 2) / (lb * eps * eps)
}

// capTarget converts a real-valued target into a sample count no larger than
// limit. The second result reports whether the cap was applied.
func capTarget(target float64, limit int) (int, bool) {
	if math.IsNaN(target) || target <= 0 {
		return 0, false
	}
	if math.IsInf(target, 1) || target > float64(limit) {
		return limit, true
	}
	return int(target), false
}
