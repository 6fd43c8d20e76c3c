package explain

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func mapWith(w, h int, blocks ...[5]float64) *AttentionMap {
	m := &AttentionMap{Width: w, Height: h, Values: make([]float64, w*h)}
	for _, b := range blocks { // x, y, width, height, value
		for y := int(b[1]); y < int(b[1]+b[3]); y++ {
			for x := int(b[0]); x < int(b[0]+b[2]); x++ {
				m.Values[y*w+x] = b[4]
			}
		}
	}
	return m
}

func TestFindRegionsFiltersSortsAndNumbers(t *testing.T) {
	m := mapWith(100, 100,
		[5]float64{0, 0, 20, 20, 0.7},   // 400 px
		[5]float64{50, 50, 20, 10, 0.95}, // 200 px
		[5]float64{90, 0, 10, 10, 0.99},  // 100 px, dropped
		[5]float64{0, 80, 30, 20, 0.5},   // below threshold
	)

	regions := FindRegions(m, 0.6, 100, 5)
	require.Len(t, regions, 2)

	require.Equal(t, 1, regions[0].ID)
	require.Equal(t, 0.95, regions[0].Intensity)
	require.Equal(t, 50.0, regions[0].XPercent)
	require.Equal(t, 50.0, regions[0].YPercent)
	require.Equal(t, 20.0, regions[0].WidthPercent)
	require.Equal(t, 10.0, regions[0].HeightPercent)
	require.Equal(t, 60.0, regions[0].CenterXPercent)
	require.Equal(t, 55.0, regions[0].CenterYPercent)
	require.Equal(t, 200, regions[0].Area)

	require.Equal(t, 2, regions[1].ID)
	require.Equal(t, 0.7, regions[1].Intensity)
}

func TestFindRegionsLimit(t *testing.T) {
	var blocks [][5]float64
	for i := 0; i < 7; i++ {
		blocks = append(blocks, [5]float64{float64(i * 14), 0, 12, 12, 0.61 + float64(i)*0.05})
	}
	regions := FindRegions(mapWith(100, 20, blocks...), 0.6, 100, 5)
	require.Len(t, regions, 5)
	for i, r := range regions {
		require.Equal(t, i+1, r.ID)
		if i > 0 {
			require.Greater(t, regions[i-1].Intensity, r.Intensity)
		}
	}
}

func TestFindRegionsDiagonalConnectivity(t *testing.T) {
	m := mapWith(40, 40,
		[5]float64{0, 0, 10, 10, 0.9},
		[5]float64{10, 10, 10, 10, 0.9},
	)
	regions := FindRegions(m, 0.6, 100, 5)
	require.Len(t, regions, 1)
	require.Equal(t, 200, regions[0].Area)
}

func TestJetEndpoints(t *testing.T) {
	require.Equal(t, color.RGBA{R: 0, G: 0, B: 128, A: 255}, Jet(0))
	require.Equal(t, color.RGBA{R: 128, G: 0, B: 0, A: 255}, Jet(1))
	mid := Jet(0.5)
	require.Equal(t, uint8(255), mid.G)
}

func TestOverlayBlends(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	m := &AttentionMap{Width: 2, Height: 1, Values: []float64{0, 1}}
	out := Overlay(img, m, 0.5)

	require.Equal(t, color.RGBA{R: 128, G: 128, B: 192, A: 255}, out.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{R: 192, G: 128, B: 128, A: 255}, out.RGBAAt(1, 0))
}
