package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Normalization holds per-channel (R, G, B) mean and standard deviation.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// CLIPNormalization is the channel normalization used by CLIP image encoders.
var CLIPNormalization = Normalization{
	Mean: [3]float32{0.48145466, 0.4578275, 0.40821073},
	Std:  [3]float32{0.26862954, 0.26130258, 0.27577711},
}

// PixelValues takes the centre square of img (side = shorter side), scales
// it bicubically to size x size, and returns normalized values in CHW order,
// ready for a [1, 3, size, size] tensor. Only a size x size bitmap is ever
// allocated, whatever the aspect ratio of img.
func PixelValues(img image.Image, size int, norm Normalization) []float32 {
	crop := centerSquare(img.Bounds())
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, crop, draw.Src, nil)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			i := resized.PixOffset(x, y)
			p := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(resized.Pix[i+c]) / 255
				out[c*plane+p] = (v - norm.Mean[c]) / norm.Std[c]
			}
		}
	}
	return out
}

// centerSquare returns the largest square centred in r.
func centerSquare(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	side := w
	if h < side {
		side = h
	}
	x0 := r.Min.X + (w-side)/2
	y0 := r.Min.Y + (h-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}
