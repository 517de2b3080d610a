package imageguard

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

// hashSize is the side length of the low-frequency DCT block kept to build
// the 64-bit hash (8x8, skipping the DC term at [0][0]).
const (
	sampleSize = 32
	hashSize   = 8
)

// computePHash implements the classic pHash recipe: downsample to a small
// grayscale grid, run a 2D DCT, keep the low-frequency corner, and hash
// each coefficient against the block's median. No perceptual-hash library
// exists anywhere in the example pack, so this is built by hand on the
// stdlib (image, math) plus golang.org/x/image/draw for downsampling — see
// DESIGN.md.
func computePHash(img image.Image) uint64 {
	gray := toGrayscale(img, sampleSize, sampleSize)
	dct := dct2D(gray, sampleSize)

	coeffs := make([]float64, 0, hashSize*hashSize-1)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if x == 0 && y == 0 {
				continue // skip the DC term, which only reflects average brightness
			}
			coeffs = append(coeffs, dct[y][x])
		}
	}
	median := medianOf(coeffs)

	var hash uint64
	bit := uint(0)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			if x == 0 && y == 0 {
				continue
			}
			if dct[y][x] > median {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

func toGrayscale(img image.Image, w, h int) [][]float64 {
	resized := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Over, nil)

	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			// ITU-R BT.601 luma weights, operating on the 16-bit channel values.
			lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			out[y][x] = lum
		}
	}
	return out
}

// dct2D runs a separable 2D DCT-II over an NxN matrix of samples.
func dct2D(samples [][]float64, n int) [][]float64 {
	rowTransformed := make([][]float64, n)
	for y := 0; y < n; y++ {
		rowTransformed[y] = dct1D(samples[y], n)
	}

	result := make([][]float64, n)
	for x := 0; x < n; x++ {
		col := make([]float64, n)
		for y := 0; y < n; y++ {
			col[y] = rowTransformed[y][x]
		}
		transformed := dct1D(col, n)
		for y := 0; y < n; y++ {
			if result[y] == nil {
				result[y] = make([]float64, n)
			}
			result[y][x] = transformed[y]
		}
	}
	return result
}

func dct1D(in []float64, n int) []float64 {
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += in[i] * math.Cos(math.Pi/float64(n)*(float64(i)+0.5)*float64(k))
		}
		alpha := math.Sqrt(2.0 / float64(n))
		if k == 0 {
			alpha = math.Sqrt(1.0 / float64(n))
		}
		out[k] = alpha * sum
	}
	return out
}

func medianOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	// insertion sort: hashSize*hashSize-1 = 63 elements, not worth pulling in sort for.
	for i := 1; i < len(sorted); i++ {
		v := sorted[i]
		j := i - 1
		for j >= 0 && sorted[j] > v {
			sorted[j+1] = sorted[j]
			j--
		}
		sorted[j+1] = v
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
