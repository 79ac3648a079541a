// Package blur implements the two blur kernels spec.md §4.6/§6 names:
// pixelation (block averaging) and a box-blur Gaussian approximation.
// Both operate in place on the frame's RGBA buffer and never read or
// write outside the clamped bbox they're given.
package blur

import (
	"image"

	"coverframe/internal/frame"
)

// Method selects which kernel Apply uses.
type Method string

const (
	Pixelation Method = "pixelation"
	Gaussian   Method = "gaussian"
)

// Options controls kernel intensity, mirroring blur.pixel_size /
// blur.gaussian_radius / box-blur pass count from spec.md §6.
type Options struct {
	Method       Method
	PixelSize    int // pixelation block size
	BoxPasses    int // number of box-blur passes approximating Gaussian
	GaussianRadius int
}

// Apply blurs every region in boxes within img (an RGBA buffer laid out
// width*height*4, row-major). Boxes must already be clamped to the
// frame's bounds by the caller (decay.Store.GetBlurSet does this).
func Apply(width, height int, pixels []byte, boxes []frame.BBox, opt Options) {
	img := &image.RGBA{Pix: pixels, Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	for _, b := range boxes {
		switch opt.Method {
		case Gaussian:
			boxBlurRegion(img, b, opt.BoxPasses, opt.GaussianRadius)
		default:
			pixelateRegion(img, b, opt.PixelSize)
		}
	}
}

// pixelateRegion replaces each PixelSize x PixelSize block inside b with
// its average color, reducing the region to an unrecognizable mosaic.
func pixelateRegion(img *image.RGBA, b frame.BBox, blockSize int) {
	if blockSize < 1 {
		blockSize = 1
	}
	for by := b.Y; by < b.Y+b.H; by += blockSize {
		blockH := blockSize
		if by+blockH > b.Y+b.H {
			blockH = b.Y + b.H - by
		}
		for bx := b.X; bx < b.X+b.W; bx += blockSize {
			blockW := blockSize
			if bx+blockW > b.X+b.W {
				blockW = b.X + b.W - bx
			}
			avgR, avgG, avgB, avgA, count := 0, 0, 0, 0, 0
			for y := by; y < by+blockH; y++ {
				for x := bx; x < bx+blockW; x++ {
					o := img.PixOffset(x, y)
					avgR += int(img.Pix[o])
					avgG += int(img.Pix[o+1])
					avgB += int(img.Pix[o+2])
					avgA += int(img.Pix[o+3])
					count++
				}
			}
			if count == 0 {
				continue
			}
			r := byte(avgR / count)
			g := byte(avgG / count)
			bl := byte(avgB / count)
			a := byte(avgA / count)
			for y := by; y < by+blockH; y++ {
				for x := bx; x < bx+blockW; x++ {
					o := img.PixOffset(x, y)
					img.Pix[o] = r
					img.Pix[o+1] = g
					img.Pix[o+2] = bl
					img.Pix[o+3] = a
				}
			}
		}
	}
}

// boxBlurRegion approximates a Gaussian blur of the given radius with
// `passes` repeated box blurs, a standard and cheap approximation
// (three passes converges visually close to a true Gaussian).
func boxBlurRegion(img *image.RGBA, b frame.BBox, passes, radius int) {
	if passes < 1 {
		passes = 1
	}
	if radius < 1 {
		radius = 1
	}
	for p := 0; p < passes; p++ {
		boxBlurPass(img, b, radius)
	}
}

func boxBlurPass(img *image.RGBA, b frame.BBox, radius int) {
	src := make([]byte, b.W*b.H*4)
	for y := 0; y < b.H; y++ {
		srcOff := img.PixOffset(b.X, b.Y+y)
		copy(src[y*b.W*4:(y+1)*b.W*4], img.Pix[srcOff:srcOff+b.W*4])
	}

	// Horizontal pass into one scratch buffer, vertical pass into a
	// second, then copied back into img; both passes use a sliding-window
	// running sum so cost is O(w*h) regardless of radius.
	horiz := make([]byte, b.W*b.H*4)
	runningBoxBlur(src, horiz, b.W, b.H, radius, true)
	vert := make([]byte, b.W*b.H*4)
	runningBoxBlur(horiz, vert, b.W, b.H, radius, false)

	for y := 0; y < b.H; y++ {
		dstOff := img.PixOffset(b.X, b.Y+y)
		copy(img.Pix[dstOff:dstOff+b.W*4], vert[y*b.W*4:(y+1)*b.W*4])
	}
}

// runningBoxBlur blurs `src` (w*h*4 RGBA) along one axis into `dst`
// (reusing src as the output buffer when dst is nil, for the second,
// vertical pass).
func runningBoxBlur(src []byte, dst []byte, w, h, radius int, horizontal bool) {
	out := dst
	if out == nil {
		out = src
	}
	window := 2*radius + 1

	if horizontal {
		for y := 0; y < h; y++ {
			rowOff := y * w * 4
			for c := 0; c < 4; c++ {
				sum := 0
				for k := -radius; k <= radius; k++ {
					x := clampInt(k, 0, w-1)
					sum += int(src[rowOff+x*4+c])
				}
				for x := 0; x < w; x++ {
					out[rowOff+x*4+c] = byte(sum / window)
					xOut := clampInt(x+radius+1, 0, w-1)
					xIn := clampInt(x-radius, 0, w-1)
					sum += int(src[rowOff+xOut*4+c]) - int(src[rowOff+xIn*4+c])
				}
			}
		}
		return
	}

	for x := 0; x < w; x++ {
		for c := 0; c < 4; c++ {
			sum := 0
			for k := -radius; k <= radius; k++ {
				y := clampInt(k, 0, h-1)
				sum += int(src[(y*w+x)*4+c])
			}
			for y := 0; y < h; y++ {
				out[(y*w+x)*4+c] = byte(sum / window)
				yOut := clampInt(y+radius+1, 0, h-1)
				yIn := clampInt(y-radius, 0, h-1)
				sum += int(src[(yOut*w+x)*4+c]) - int(src[(yIn*w+x)*4+c])
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
