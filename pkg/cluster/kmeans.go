package cluster

import (
	"math"
	"math/rand/v2"
)

// KMeansParams configures Lloyd's algorithm with k-means++ seeding.
type KMeansParams struct {
	K        int
	Seed     uint64
	Restarts int
	MaxIter  int
	// Tol stops a run once the summed squared centroid shift falls below
	// Tol times the mean per-dimension variance of the data.
	Tol float64
}

// KMeansResult is the best run found. Labels[i] is the cluster of point i.
type KMeansResult struct {
	Labels    []int
	Centroids [][]float64
	Inertia   float64
}

// KMeans partitions points into p.K clusters by Euclidean distance. The best
// of p.Restarts seeded runs by inertia wins; ties keep the earlier run. All
// randomness comes from one PCG stream seeded with p.Seed, so results are
// reproducible. K is clamped to [1, len(points)].
func KMeans(points [][]float64, p KMeansParams) KMeansResult {
	n := len(points)
	if n == 0 {
		return KMeansResult{}
	}
	k := min(max(p.K, 1), n)
	restarts := max(p.Restarts, 1)
	maxIter := max(p.MaxIter, 1)
	tol := p.Tol * meanVariance(points)

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed))

	var best KMeansResult
	for r := 0; r < restarts; r++ {
		centroids := seedPlusPlus(points, k, rng)
		labels, inertia := lloyd(points, centroids, maxIter, tol)
		if r == 0 || inertia < best.Inertia {
			best = KMeansResult{Labels: labels, Centroids: centroids, Inertia: inertia}
		}
	}
	return best
}

// seedPlusPlus picks the first centre uniformly and every further centre with
// probability proportional to its squared distance from the nearest centre.
func seedPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.IntN(n)]))

	dist := make([]float64, n)
	for i, pt := range points {
		dist[i] = sqDist(pt, centroids[0])
	}
	for len(centroids) < k {
		total := 0.0
		for _, d := range dist {
			total += d
		}
		idx := 0
		if total <= 0 {
			idx = rng.IntN(n)
		} else {
			target := rng.Float64() * total
			acc := 0.0
			idx = n - 1
			for i, d := range dist {
				acc += d
				if acc > target {
					idx = i
					break
				}
			}
		}
		c := clone(points[idx])
		centroids = append(centroids, c)
		for i, pt := range points {
			if d := sqDist(pt, c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centroids
}

// lloyd refines centroids in place and returns the final labels and inertia.
func lloyd(points [][]float64, centroids [][]float64, maxIter int, tol float64) ([]int, float64) {
	n := len(points)
	k := len(centroids)
	dim := len(points[0])
	labels := make([]int, n)

	for iter := 0; iter < maxIter; iter++ {
		assign(points, centroids, labels)

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, pt := range points {
			c := labels[i]
			counts[c]++
			for d, x := range pt {
				sums[c][d] += x
			}
		}

		fillEmpty(points, centroids, labels, counts, sums)

		shift := 0.0
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			next := make([]float64, dim)
			for d := range next {
				next[d] = sums[c][d] / float64(counts[c])
			}
			shift += sqDist(next, centroids[c])
			centroids[c] = next
		}
		if shift <= tol {
			break
		}
	}

	inertia := assign(points, centroids, labels)
	return labels, inertia
}

// fillEmpty moves the point farthest from its centroid into each empty
// cluster, taking it only from clusters that keep at least one member.
func fillEmpty(points [][]float64, centroids [][]float64, labels []int, counts []int, sums [][]float64) {
	for c := range counts {
		if counts[c] > 0 {
			continue
		}
		far := -1
		farDist := -1.0
		for i, pt := range points {
			if counts[labels[i]] < 2 {
				continue
			}
			if d := sqDist(pt, centroids[labels[i]]); d > farDist {
				far = i
				farDist = d
			}
		}
		if far < 0 {
			return
		}
		old := labels[far]
		counts[old]--
		for d, x := range points[far] {
			sums[old][d] -= x
		}
		labels[far] = c
		counts[c] = 1
		copy(sums[c], points[far])
	}
}

// assign labels every point with its nearest centroid, lowest index on ties,
// and returns the summed squared distance.
func assign(points [][]float64, centroids [][]float64, labels []int) float64 {
	inertia := 0.0
	for i, pt := range points {
		best := 0
		bestDist := math.Inf(1)
		for c, ctr := range centroids {
			if d := sqDist(pt, ctr); d < bestDist {
				best = c
				bestDist = d
			}
		}
		labels[i] = best
		inertia += bestDist
	}
	return inertia
}

func meanVariance(points [][]float64) float64 {
	n := float64(len(points))
	dim := len(points[0])
	if dim == 0 {
		return 0
	}
	total := 0.0
	for d := 0; d < dim; d++ {
		mean := 0.0
		for _, pt := range points {
			mean += pt[d]
		}
		mean /= n
		for _, pt := range points {
			diff := pt[d] - mean
			total += diff * diff
		}
	}
	return total / (n * float64(dim))
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
