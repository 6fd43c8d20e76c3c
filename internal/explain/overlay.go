package explain

import (
	"image"
	"image/color"
	"math"
)

// Jet maps v in [0,1] onto the blue-cyan-yellow-red scale.
func Jet(v float64) color.RGBA {
	channel := func(center float64) uint8 {
		c := 1.5 - math.Abs(4*v-center)
		c = math.Max(0, math.Min(1, c))
		return uint8(math.Round(c * 255))
	}
	return color.RGBA{R: channel(3), G: channel(2), B: channel(1), A: 255}
}

// Overlay alpha-blends the colour-mapped attention over img. m must match
// the bounds of img.
func Overlay(img image.Image, m *AttentionMap, alpha float64) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			heat := Jet(m.At(x, y))
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()

			i := out.PixOffset(x, y)
			out.Pix[i+0] = blend(heat.R, uint8(r>>8), alpha)
			out.Pix[i+1] = blend(heat.G, uint8(g>>8), alpha)
			out.Pix[i+2] = blend(heat.B, uint8(bl>>8), alpha)
			out.Pix[i+3] = 255
		}
	}
	return out
}

func blend(heat, base uint8, alpha float64) uint8 {
	return uint8(math.Round(alpha*float64(heat) + (1-alpha)*float64(base)))
}
