package main

import (
	"image"
	"image/color"
	"strings"
	"testing"
)

func twoColorImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	red := color.RGBA{R: 255, A: 255}
	blue := color.RGBA{B: 255, A: 255}
	img.Set(0, 0, red)
	img.Set(1, 0, blue)
	img.Set(0, 1, red)
	img.Set(1, 1, blue)
	return img
}

func TestAlignConstant(t *testing.T) {
	cases := map[string]string{"left": "AlignLeft", "center": "AlignCenter", "right": "AlignRight"}
	for in, want := range cases {
		got, err := alignConstant(in)
		if err != nil || got != want {
			t.Fatalf("alignConstant(%q) = (%q, %v), want %q", in, got, err, want)
		}
	}

	if _, err := alignConstant("diagonal"); err == nil {
		t.Fatal("expected an error for an invalid alignment")
	}
}

func TestBuildPaletteReservesTransparentAtIndexZero(t *testing.T) {
	img := twoColorImage()
	trans := color.RGBA{R: 1, G: 2, B: 3}

	palette, index, err := buildPalette(img, trans)
	if err != nil {
		t.Fatalf("buildPalette: %v", err)
	}
	if palette[0] != trans {
		t.Fatalf("palette[0] = %+v, want transparent color %+v", palette[0], trans)
	}
	if index[trans] != 0 {
		t.Fatalf("index[trans] = %d, want 0", index[trans])
	}
	if len(palette) != 3 {
		t.Fatalf("len(palette) = %d, want 3 (transparent + red + blue)", len(palette))
	}
}

func TestBuildPaletteRejectsTooManyColors(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, maxColors, 1))
	for x := 0; x < maxColors; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}

	// The transparent color must differ from every pixel color (pixel 0
	// is black) so the palette needs maxColors+1 entries.
	if _, _, err := buildPalette(img, color.RGBA{G: 1}); err == nil {
		t.Fatal("expected an error when the image needs more than maxColors entries")
	}
}

func TestGenLogoSourceProducesCompilableLogoPackage(t *testing.T) {
	img := twoColorImage()
	src, err := genLogoSource(img, color.RGBA{}, "boot", "center")
	if err != nil {
		t.Fatalf("genLogoSource: %v", err)
	}

	if !strings.Contains(src, "package logo") {
		t.Fatal("expected generated source to declare package logo")
	}
	if !strings.Contains(src, "boot2x2") {
		t.Fatal("expected generated variable name to encode the image dimensions")
	}
	if !strings.Contains(src, "AlignCenter") {
		t.Fatal("expected generated source to reference the requested alignment")
	}

	if _, err := formatSource(src); err != nil {
		t.Fatalf("formatSource: %v (generated source was not valid Go)", err)
	}
}

func TestGenLogoSourceRejectsInvalidAlign(t *testing.T) {
	img := twoColorImage()
	if _, err := genLogoSource(img, color.RGBA{}, "boot", "upside-down"); err == nil {
		t.Fatal("expected an error for an invalid alignment")
	}
}
