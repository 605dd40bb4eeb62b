// Package distance implements the bit-exact distance kernels vectors are
// scored with (spec §4.G): L2, cosine, inner-product, L1, and Hamming, each
// required to reproduce the same IEEE-754 result for the same input on any
// host (spec: "no compiler-specific fast-math, no non-deterministic SIMD
// reduction order"). Dispatch is a plain enum-indexed function table rather
// than an interface per element, matching the teacher's preference for flat
// switch-dispatch over small per-op interfaces (pkg/ext4/layout.go's
// planner dispatches disk-layout strategies the same way).
//
// This package is deliberately built on the standard library only: no
// library in the corpus offers a distance kernel that commits to strict
// left-to-right summation order, and introducing one (e.g. a BLAS binding)
// would let the host's SIMD reduction order vary the result in the last
// bit, violating the bit-exact requirement outright (see DESIGN.md).
package distance

import (
	"math"

	"github.com/lspecian/vexfs-sub002/pkg/vexfserr"
)

// Metric selects a kernel (spec §4.G).
type Metric int

const (
	L2 Metric = iota
	Cosine
	InnerProduct
	L1
	Hamming
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case Cosine:
		return "cosine"
	case InnerProduct:
		return "inner_product"
	case L1:
		return "l1"
	case Hamming:
		return "hamming"
	default:
		return "unknown"
	}
}

// Func computes the distance between two equal-length float32 vectors.
type Func func(a, b []float32) (float32, error)

var table = map[Metric]Func{
	L2:           l2,
	Cosine:       cosine,
	InnerProduct: innerProduct,
	L1:           l1,
	Hamming:      hamming,
}

// ParseMetric maps a config string (spec §6.3: "One of {L2, cosine, inner,
// L1, Hamming}") onto a Metric. Accepts the config spelling ("inner") as
// well as Metric.String()'s own spelling ("inner_product").
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "l2", "L2":
		return L2, nil
	case "cosine", "Cosine":
		return Cosine, nil
	case "inner", "inner_product", "InnerProduct":
		return InnerProduct, nil
	case "l1", "L1":
		return L1, nil
	case "hamming", "Hamming":
		return Hamming, nil
	default:
		return 0, vexfserr.Wrap(vexfserr.InvalidArgument, "distance.ParseMetric", "unknown metric %q", s)
	}
}

// Get returns the kernel for metric, or an error if it's unrecognized.
func Get(m Metric) (Func, error) {
	fn, ok := table[m]
	if !ok {
		return nil, vexfserr.Wrap(vexfserr.InvalidArgument, "distance.Get", "unknown metric %d", m)
	}
	return fn, nil
}

func checkLen(a, b []float32) error {
	if len(a) != len(b) {
		return vexfserr.Wrap(vexfserr.InvalidArgument, "distance", "dimension mismatch: %d vs %d", len(a), len(b))
	}
	return nil
}

// bits32 round-trips each operand through its IEEE-754 bit pattern before
// use, the seam spec §4.G names explicitly so kernels never depend on a
// platform's extended-precision register width for intermediate sums.
func bits32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f))
}

// l2 computes squared Euclidean distance, summed strictly left to right.
func l2(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	var sum float32
	for i := range a {
		d := bits32(a[i]) - bits32(b[i])
		sum += d * d
	}
	return sum, nil
}

// cosine computes 1 - cosine similarity.
func cosine(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	var dot, na, nb float32
	for i := range a {
		av, bv := bits32(a[i]), bits32(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 1, nil
	}
	sim := dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
	return 1 - sim, nil
}

// innerProduct returns the negated dot product, so that, like the other
// kernels, smaller is "closer" (spec §4.G: "ordering is always ascending by
// returned distance").
func innerProduct(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	var dot float32
	for i := range a {
		dot += bits32(a[i]) * bits32(b[i])
	}
	return -dot, nil
}

// l1 computes Manhattan distance.
func l1(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	var sum float32
	for i := range a {
		d := bits32(a[i]) - bits32(b[i])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum, nil
}

// hamming counts differing bit patterns, treating each float32 lane as an
// opaque 32-bit symbol (used for binary/quantized vectors per spec §4.G).
func hamming(a, b []float32) (float32, error) {
	if err := checkLen(a, b); err != nil {
		return 0, err
	}
	var count float32
	for i := range a {
		if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
			count++
		}
	}
	return count, nil
}
