package threshold

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"toothanalyser/pkg/volume"
)

// The calculators follow the ImageJ auto-threshold family that ITK ports:
// each takes raw bin counts and returns the last background bin.

const eps = 2.220446049250313e-16

// maxIterations bounds the iterative calculators.
const maxIterations = 10000

func total(h []float64) float64 {
	return floats.Sum(h)
}

// normalized returns the normalised histogram, its cumulative sum P1 and the
// complementary P2 = 1 - P1, together with the first and last bins where the
// two classes are both non-empty.
func normalized(h []float64) (p, p1, p2 []float64, first, last int) {
	n := len(h)
	t := total(h)
	p = make([]float64, n)
	p1 = make([]float64, n)
	p2 = make([]float64, n)
	for i, c := range h {
		p[i] = c / t
	}
	p1[0] = p[0]
	p2[0] = 1 - p1[0]
	for i := 1; i < n; i++ {
		p1[i] = p1[i-1] + p[i]
		p2[i] = 1 - p1[i]
	}
	first = 0
	for i := 0; i < n; i++ {
		if math.Abs(p1[i]) >= eps {
			first = i
			break
		}
	}
	last = n - 1
	for i := n - 1; i >= first; i-- {
		if math.Abs(p2[i]) >= eps {
			last = i
			break
		}
	}
	return p, p1, p2, first, last
}

func otsu(h []float64) (int, error) {
	n := total(h)
	s := 0.0
	for k, c := range h {
		s += float64(k) * c
	}
	var n1, sk, best float64
	kStar := 0
	for k, c := range h {
		sk += float64(k) * c
		n1 += c
		denom := n1 * (n - n1)
		bcv := 0.0
		if denom != 0 {
			num := (n1/n)*s - sk
			bcv = num * num / denom
		}
		if bcv > best {
			best = bcv
			kStar = k
		}
	}
	return kStar, nil
}

func huang(h []float64) (int, error) {
	first := 0
	for first < len(h) && h[first] == 0 {
		first++
	}
	last := len(h) - 1
	for last > first && h[last] == 0 {
		last--
	}
	if first >= last {
		return first, nil
	}

	s := make([]float64, last+1)
	w := make([]float64, last+1)
	s[first] = h[first]
	w[first] = float64(first) * h[first]
	for i := first + 1; i <= last; i++ {
		s[i] = s[i-1] + h[i]
		w[i] = w[i-1] + float64(i)*h[i]
	}

	c := float64(last - first)
	smu := make([]float64, last-first+1)
	for i := 1; i < len(smu); i++ {
		mu := 1 / (1 + float64(i)/c)
		smu[i] = -mu*math.Log(mu) - (1-mu)*math.Log(1-mu)
	}

	best := 0
	bestEntropy := math.MaxFloat64
	for t := first; t <= last; t++ {
		entropy := 0.0
		mu := int(math.Round(w[t] / s[t]))
		for i := first; i <= t; i++ {
			entropy += smu[absInt(i-mu)] * h[i]
		}
		if t < last {
			mu = int(math.Round((w[last] - w[t]) / (s[last] - s[t])))
			for i := t + 1; i <= last; i++ {
				entropy += smu[absInt(i-mu)] * h[i]
			}
		}
		if bestEntropy > entropy {
			bestEntropy = entropy
			best = t
		}
	}
	return best, nil
}

func absInt(i int) int {
	if i < 0 {
		return -i
	}
	return i
}

// plogp returns the running sum of p·ln(p) over non-empty bins.
func plogp(p []float64) []float64 {
	out := make([]float64, len(p))
	acc := 0.0
	for i, v := range p {
		if v > 0 {
			acc += v * math.Log(v)
		}
		out[i] = acc
	}
	return out
}

// kapur returns the Kapur-Sahoo-Wong maximum entropy threshold, starting
// from the given best entropy.
func kapur(h []float64, start float64) int {
	p, p1, p2, first, last := normalized(h)
	a := plogp(p)
	all := a[len(a)-1]
	threshold := 0
	best := start
	for it := first; it <= last; it++ {
		// -Σ (p/P)·ln(p/P) = ln P - Σ p·ln p / P
		back := 0.0
		if p1[it] > 0 {
			back = math.Log(p1[it]) - a[it]/p1[it]
		}
		obj := 0.0
		if p2[it] > 0 {
			obj = math.Log(p2[it]) - (all-a[it])/p2[it]
		}
		if tot := back + obj; best < tot {
			best = tot
			threshold = it
		}
	}
	return threshold
}

func maxEntropy(h []float64) (int, error) {
	return kapur(h, -math.MaxFloat64), nil
}

func renyi(h []float64) (int, error) {
	p, p1, p2, first, last := normalized(h)
	n := len(h)

	tStar2 := kapur(h, 0)

	sqrtSum := make([]float64, n)
	sqSum := make([]float64, n)
	accSqrt, accSq := 0.0, 0.0
	for i, v := range p {
		accSqrt += math.Sqrt(v)
		accSq += v * v
		sqrtSum[i] = accSqrt
		sqSum[i] = accSq
	}

	// alpha = 0.5
	tStar1 := 0
	best := 0.0
	for it := first; it <= last; it++ {
		back := sqrtSum[it] / math.Sqrt(p1[it])
		obj := (accSqrt - sqrtSum[it]) / math.Sqrt(p2[it])
		tot := 0.0
		if back*obj > 0 {
			tot = 2 * math.Log(back*obj)
		}
		if tot > best {
			best = tot
			tStar1 = it
		}
	}

	// alpha = 2
	tStar3 := 0
	best = 0
	for it := first; it <= last; it++ {
		back := sqSum[it] / (p1[it] * p1[it])
		obj := (accSq - sqSum[it]) / (p2[it] * p2[it])
		tot := 0.0
		if back*obj > 0 {
			tot = -math.Log(back * obj)
		}
		if tot > best {
			best = tot
			tStar3 = it
		}
	}

	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}
	if tStar3 < tStar2 {
		tStar2, tStar3 = tStar3, tStar2
	}
	if tStar2 < tStar1 {
		tStar1, tStar2 = tStar2, tStar1
	}

	var beta1, beta2, beta3 float64
	if absInt(tStar1-tStar2) <= 5 {
		if absInt(tStar2-tStar3) <= 5 {
			beta1, beta2, beta3 = 1, 2, 1
		} else {
			beta1, beta2, beta3 = 0, 1, 3
		}
	} else {
		if absInt(tStar2-tStar3) <= 5 {
			beta1, beta2, beta3 = 3, 1, 0
		} else {
			beta1, beta2, beta3 = 1, 2, 1
		}
	}

	omega := p1[tStar3] - p1[tStar1]
	t := float64(tStar1)*(p1[tStar1]+0.25*omega*beta1) +
		0.25*float64(tStar2)*omega*beta2 +
		float64(tStar3)*(p2[tStar3]+0.25*omega*beta3)
	return int(t), nil
}

func bimodal(y []float64) bool {
	modes := 0
	for k := 1; k < len(y)-1; k++ {
		if y[k-1] < y[k] && y[k+1] < y[k] {
			modes++
			if modes > 2 {
				return false
			}
		}
	}
	return modes == 2
}

func intermodes(h []float64) (int, error) {
	n := len(h)
	cur := append([]float64(nil), h...)
	tmp := make([]float64, n)
	for iter := 0; !bimodal(cur); iter++ {
		if iter >= maxIterations {
			return -1, fmt.Errorf("%w: intermodes histogram not bimodal after %d smoothing passes",
				volume.ErrComputation, maxIterations)
		}
		for i := 1; i < n-1; i++ {
			tmp[i] = (cur[i-1] + cur[i] + cur[i+1]) / 3
		}
		tmp[0] = (cur[0] + cur[1]) / 3
		tmp[n-1] = (cur[n-2] + cur[n-1]) / 3
		cur, tmp = tmp, cur
	}
	tt := 0
	for i := 1; i < n-1; i++ {
		if cur[i-1] < cur[i] && cur[i+1] < cur[i] {
			tt += i
		}
	}
	return int(math.Floor(float64(tt) / 2)), nil
}

func isoData(h []float64) (int, error) {
	n := len(h)
	cnt := make([]float64, n)
	mom := make([]float64, n)
	accC, accM := 0.0, 0.0
	for i, c := range h {
		accC += c
		accM += float64(i) * c
		cnt[i] = accC
		mom[i] = accM
	}

	g := 0
	for i := 1; i < n; i++ {
		if h[i] > 0 {
			g = i + 1
			break
		}
	}
	for ; g <= n-2; g++ {
		totl, l := cnt[g], mom[g]
		toth, hi := accC-cnt[g], accM-mom[g]
		if totl > 0 && toth > 0 {
			ml := math.Floor(l / totl)
			mh := math.Floor(hi / toth)
			if g == int(math.Round((ml+mh)/2)) {
				return g, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: isodata threshold not found", volume.ErrComputation)
}

func kittler(h []float64) (int, error) {
	n := len(h)
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	accA, accB, accC := 0.0, 0.0, 0.0
	for i, v := range h {
		fi := float64(i)
		accA += v
		accB += fi * v
		accC += fi * fi * v
		a[i], b[i], c[i] = accA, accB, accC
	}

	threshold := int(math.Floor(accB / accA))
	prev := -2
	for iter := 0; threshold != prev && iter < maxIterations; iter++ {
		if threshold < 0 || threshold >= n-1 || a[threshold] == 0 || accA-a[threshold] == 0 {
			break
		}
		mu := b[threshold] / a[threshold]
		nu := (accB - b[threshold]) / (accA - a[threshold])
		p := a[threshold] / accA
		q := (accA - a[threshold]) / accA
		sigma2 := c[threshold]/a[threshold] - mu*mu
		tau2 := (accC-c[threshold])/(accA-a[threshold]) - nu*nu
		if sigma2 <= 0 || tau2 <= 0 {
			break
		}

		w0 := 1/sigma2 - 1/tau2
		w1 := mu/sigma2 - nu/tau2
		w2 := mu*mu/sigma2 - nu*nu/tau2 + math.Log10((sigma2*q*q)/(tau2*p*p))
		sqterm := w1*w1 - w0*w2
		if sqterm < 0 || w0 == 0 {
			break
		}
		temp := (w1 + math.Sqrt(sqterm)) / w0
		if math.IsNaN(temp) || temp < 0 || temp >= float64(n-1) {
			break
		}
		prev = threshold
		threshold = int(math.Floor(temp))
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > n-2 {
		threshold = n - 2
	}
	return threshold, nil
}

func moments(h []float64) (int, error) {
	t := total(h)
	var m1, m2, m3 float64
	p := make([]float64, len(h))
	for i, c := range h {
		p[i] = c / t
		di := float64(i)
		m1 += di * p[i]
		m2 += di * di * p[i]
		m3 += di * di * di * p[i]
	}
	m0 := 1.0
	cd := m0*m2 - m1*m1
	c0 := (-m2*m2 + m1*m3) / cd
	c1 := (m0*-m3 + m2*m1) / cd
	disc := math.Sqrt(c1*c1 - 4*c0)
	z0 := 0.5 * (-c1 - disc)
	z1 := 0.5 * (-c1 + disc)
	p0 := (z1 - m1) / (z1 - z0)

	sum := 0.0
	for i, v := range p {
		sum += v
		if sum > p0 {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: moments threshold not found", volume.ErrComputation)
}

func shanbhag(h []float64) (int, error) {
	p, p1, p2, first, last := normalized(h)
	threshold := -1
	best := math.MaxFloat64
	for it := first; it <= last; it++ {
		back := 0.0
		term := 0.5 / p1[it]
		for ih := 1; ih <= it; ih++ {
			back -= p[ih] * math.Log(1-term*p1[ih-1])
		}
		back *= term

		obj := 0.0
		term = 0.5 / p2[it]
		for ih := it + 1; ih < len(p); ih++ {
			obj -= p[ih] * math.Log(1-term*p2[ih])
		}
		obj *= term

		if tot := math.Abs(back - obj); tot < best {
			best = tot
			threshold = it
		}
	}
	if threshold < 0 {
		return -1, fmt.Errorf("%w: shanbhag threshold not found", volume.ErrComputation)
	}
	return threshold, nil
}

func yen(h []float64) (int, error) {
	p, p1, _, _, _ := normalized(h)
	n := len(h)
	p1sq := make([]float64, n)
	p2sq := make([]float64, n)
	p1sq[0] = p[0] * p[0]
	for i := 1; i < n; i++ {
		p1sq[i] = p1sq[i-1] + p[i]*p[i]
	}
	for i := n - 2; i >= 0; i-- {
		p2sq[i] = p2sq[i+1] + p[i+1]*p[i+1]
	}

	threshold := -1
	best := -math.MaxFloat64
	for it := 0; it < n; it++ {
		crit := 0.0
		if v := p1sq[it] * p2sq[it]; v > 0 {
			crit -= math.Log(v)
		}
		if v := p1[it] * (1 - p1[it]); v > 0 {
			crit += 2 * math.Log(v)
		}
		if crit > best {
			best = crit
			threshold = it
		}
	}
	return threshold, nil
}
