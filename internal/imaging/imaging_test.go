package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"runtime"
	"testing"
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

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecode_Formats(t *testing.T) {
	img := solid(8, 4, color.RGBA{R: 200, G: 10, B: 10, A: 255})
	pngBytes := encodePNG(t, img)
	var jpgBuf bytes.Buffer
	if err := jpeg.Encode(&jpgBuf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}

	tests := []struct {
		name    string
		content []byte
		format  string
	}{
		{"png", pngBytes, "png"},
		{"jpeg", jpgBuf.Bytes(), "jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, format, err := Decode(tt.content)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if format != tt.format {
				t.Errorf("format = %q, want %q", format, tt.format)
			}
			if b := got.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
				t.Errorf("bounds = %v, want 8x4", b)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", nil},
		{"text", []byte("hello, not an image")},
		{"truncated png", encodePNG(t, solid(4, 4, color.White))[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.content)
			if !errors.Is(err, ErrUndecodable) {
				t.Fatalf("Decode err = %v, want ErrUndecodable", err)
			}
		})
	}
}

func TestIsImagePath(t *testing.T) {
	tests := map[string]bool{
		"photo.JPG":        true,
		"a/b/c.webp":       true,
		"scan.tiff":        true,
		"notes.txt":        false,
		"archive.tar.gz":   false,
		"no-extension":     false,
		"/tmp/holiday.png": true,
	}
	for path, want := range tests {
		if got := IsImagePath(path); got != want {
			t.Errorf("IsImagePath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestPixelValues_ShapeAndNormalization(t *testing.T) {
	img := solid(40, 20, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	const size = 16
	out := PixelValues(img, size, CLIPNormalization)
	if len(out) != 3*size*size {
		t.Fatalf("len = %d, want %d", len(out), 3*size*size)
	}
	plane := size * size
	for c := 0; c < 3; c++ {
		want := (1 - CLIPNormalization.Mean[c]) / CLIPNormalization.Std[c]
		for _, p := range []int{0, plane / 2, plane - 1} {
			got := out[c*plane+p]
			if math.Abs(float64(got-want)) > 1e-3 {
				t.Errorf("channel %d pixel %d = %v, want %v", c, p, got, want)
			}
		}
	}
}

func TestPixelValues_CenterCrop(t *testing.T) {
	// Left half red, right half blue; a square crop keeps both halves.
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 64; x++ {
			if x < 32 {
				img.Set(x, y, color.RGBA{R: 255, A: 255})
			} else {
				img.Set(x, y, color.RGBA{B: 255, A: 255})
			}
		}
	}
	const size = 8
	identity := Normalization{Mean: [3]float32{0, 0, 0}, Std: [3]float32{1, 1, 1}}
	out := PixelValues(img, size, identity)
	plane := size * size
	red := func(x, y int) float32 { return out[y*size+x] }
	blue := func(x, y int) float32 { return out[2*plane+y*size+x] }
	if red(0, 4) < 0.9 || blue(0, 4) > 0.1 {
		t.Errorf("left edge not red: r=%v b=%v", red(0, 4), blue(0, 4))
	}
	if blue(size-1, 4) < 0.9 || red(size-1, 4) > 0.1 {
		t.Errorf("right edge not blue: r=%v b=%v", red(size-1, 4), blue(size-1, 4))
	}
}

func TestPixelValues_ExtremeAspectRatio(t *testing.T) {
	tests := []struct {
		name string
		w, h int
	}{
		{"tall", 1, 65536},
		{"wide", 65536, 1},
		{"thin strip", 3, 40000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(tt.w, tt.h, color.RGBA{G: 255, A: 255})
			const size = 224

			var before, after runtime.MemStats
			runtime.GC()
			runtime.ReadMemStats(&before)
			out := PixelValues(img, size, CLIPNormalization)
			runtime.ReadMemStats(&after)

			if len(out) != 3*size*size {
				t.Fatalf("len = %d, want %d", len(out), 3*size*size)
			}
			if alloc := after.TotalAlloc - before.TotalAlloc; alloc > 16<<20 {
				t.Errorf("allocated %d MiB for a %dx%d image", alloc>>20, tt.w, tt.h)
			}
			want := (1 - CLIPNormalization.Mean[1]) / CLIPNormalization.Std[1]
			if got := out[size*size+size*size/2]; math.Abs(float64(got-want)) > 1e-3 {
				t.Errorf("green centre = %v, want %v", got, want)
			}
		})
	}
}

func TestCenterSquare(t *testing.T) {
	tests := []struct {
		in, want image.Rectangle
	}{
		{image.Rect(0, 0, 64, 32), image.Rect(16, 0, 48, 32)},
		{image.Rect(0, 0, 10, 31), image.Rect(0, 10, 10, 20)},
		{image.Rect(5, 5, 15, 15), image.Rect(5, 5, 15, 15)},
		{image.Rect(0, 0, 1, 65536), image.Rect(0, 32767, 1, 32768)},
	}
	for _, tt := range tests {
		if got := centerSquare(tt.in); got != tt.want {
			t.Errorf("centerSquare(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
