package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSoftmax2(t *testing.T) {
	a, b := softmax2(0, 0)
	require.InDelta(t, 0.5, a, 1e-9)
	require.InDelta(t, 0.5, b, 1e-9)

	a, b = softmax2(1000, -1000)
	require.InDelta(t, 1, a, 1e-9)
	require.InDelta(t, 0, b, 1e-9)
	require.InDelta(t, 1, a+b, 1e-12)
}

func TestClassificationConfidence(t *testing.T) {
	c := &Classification{Label: LabelFake, ProbReal: 0.2, ProbFake: 0.8}
	require.Equal(t, 0.8, c.Confidence())
	c = &Classification{Label: LabelReal, ProbReal: 0.7, ProbFake: 0.3}
	require.Equal(t, 0.7, c.Confidence())
}

func TestEmbeddingPoolsAndNormalizes(t *testing.T) {
	fm := FeatureMap{Channels: 2, Height: 2, Width: 2, Data: []float32{
		3, 3, 3, 3,
		4, 4, 4, 4,
	}}
	emb := Embedding(fm)
	require.Len(t, emb, 2)
	require.InDelta(t, 0.6, emb[0], 1e-6)
	require.InDelta(t, 0.8, emb[1], 1e-6)

	require.Nil(t, Embedding(FeatureMap{Channels: 1, Height: 2, Width: 2, Data: []float32{1}}))
}

func TestSelectFace(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 20, 20}, Confidence: 0.99}, // too small
		{BBox: [4]float32{0, 0, 60, 80}, Confidence: 0.7},
		{BBox: [4]float32{100, 100, 200, 220}, Confidence: 0.9},
	}
	best, ok := selectFace(dets, 40)
	require.True(t, ok)
	require.Equal(t, float32(0.9), best.Confidence)

	_, ok = selectFace(dets[:1], 40)
	require.False(t, ok)
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.8},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.9},
		{BBox: [4]float32{300, 300, 400, 400}, Confidence: 0.6},
	}
	kept := nms(dets, 0.4)
	require.Len(t, kept, 2)
	require.Equal(t, float32(0.9), kept[0].Confidence)
	require.Equal(t, float32(0.6), kept[1].Confidence)
}

func TestIoU(t *testing.T) {
	require.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	require.InDelta(t, 0.0, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}), 1e-6)
	require.InDelta(t, 25.0/175.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
}

func TestCropFaceAddsMarginAndClamps(t *testing.T) {
	img := solid(100, 100, color.White)

	crop := cropFace(img, [4]float32{20, 20, 60, 60}, 0.1)
	require.Equal(t, image.Rect(0, 0, 48, 48), crop.Bounds())

	crop = cropFace(img, [4]float32{-10, -10, 30, 30}, 0.5)
	require.Equal(t, image.Rect(0, 0, 45, 45), crop.Bounds())

	require.Nil(t, cropFace(img, [4]float32{200, 200, 300, 300}, 0.1))
}

func TestFitKeepsAspect(t *testing.T) {
	img := solid(800, 400, color.Black)
	out := Fit(img, 200)
	require.Equal(t, 200, out.Bounds().Dx())
	require.Equal(t, 100, out.Bounds().Dy())

	small := solid(50, 50, color.Black)
	require.Same(t, small, Fit(small, 200))
}

func TestImageToFloat32CHW(t *testing.T) {
	img := solid(10, 10, color.RGBA{R: 255, G: 0, B: 128, A: 255})
	data := imageToFloat32CHW(img, 4, 4, [3]float32{0, 0, 0}, [3]float32{255, 255, 255})
	require.Len(t, data, 3*16)
	require.InDelta(t, 1.0, data[0], 1e-6)
	require.InDelta(t, 0.0, data[16], 1e-6)
	require.InDelta(t, 128.0/255.0, data[32], 1e-6)
}

func TestDecodeImage(t *testing.T) {
	_, _, err := DecodeImage(nil)
	require.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = DecodeImage([]byte("not an image"))
	require.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(8, 6, color.White)))
	img, format, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 8, img.Bounds().Dx())
}

func TestThumbnailIsJPEG(t *testing.T) {
	data, err := Thumbnail(solid(640, 480, color.Gray{Y: 90}), 200)
	require.NoError(t, err)
	img, format, err := DecodeImage(data)
	require.NoError(t, err)
	require.Equal(t, "jpeg", format)
	require.Equal(t, 200, img.Bounds().Dx())
	require.Equal(t, 150, img.Bounds().Dy())
}
