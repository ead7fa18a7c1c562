package main

import (
	"bytes"
	"fmt"
	"go/parser"
	"go/printer"
	"go/token"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// maxColors is the largest palette the console logo format can address
// (an 8bpp image with one reserved transparent entry).
const maxColors = 256

// buildPalette walks img and assigns each distinct color a palette index,
// with transColor always occupying index 0.
func buildPalette(img image.Image, transColor color.RGBA) ([]color.RGBA, map[color.RGBA]int, error) {
	palette := []color.RGBA{transColor}
	colorToPalIndex := map[color.RGBA]int{transColor: 0}

	bounds := img.Bounds()
	for y := 0; y < bounds.Size().Y; y++ {
		for x := 0; x < bounds.Size().X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			c := color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b)}
			if _, exists := colorToPalIndex[c]; exists {
				continue
			}
			colorToPalIndex[c] = len(colorToPalIndex)
			palette = append(palette, c)
		}
	}

	if got := len(palette); got > maxColors {
		return nil, nil, fmt.Errorf("logo uses %d colors, more than the %d-color limit", got, maxColors)
	}

	return palette, colorToPalIndex, nil
}

// alignConstant maps a human-readable alignment flag value onto the
// logo.Alignment constant name the generated source should reference.
func alignConstant(align string) (string, error) {
	switch align {
	case "left":
		return "AlignLeft", nil
	case "center":
		return "AlignCenter", nil
	case "right":
		return "AlignRight", nil
	default:
		return "", fmt.Errorf("invalid alignment %q; supported values are left, center or right", align)
	}
}

// genLogoSource renders img as a device/video/console/logo-compatible Go
// source file: a package-level Image literal plus an init() that registers
// it with the package's availableLogos list.
func genLogoSource(img image.Image, transColor color.RGBA, varName, align string) (string, error) {
	alignConst, err := alignConstant(align)
	if err != nil {
		return "", err
	}

	palette, colorToPalIndex, err := buildPalette(img, transColor)
	if err != nil {
		return "", err
	}

	bounds := img.Bounds()
	logoVarName := fmt.Sprintf("%s%dx%d", varName, bounds.Size().X, bounds.Size().Y)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "package logo\n\nimport \"image/color\"\n\nvar (\n%s = Image{\nWidth: %d,\nHeight: %d,\nAlign: %s,\nTransparentIndex: 0,\n",
		logoVarName, bounds.Size().X, bounds.Size().Y, alignConst)

	fmt.Fprint(&buf, "Palette: []color.RGBA{\n")
	for _, c := range palette {
		fmt.Fprintf(&buf, "\t{R:%d, G:%d, B:%d},\n", c.R, c.G, c.B)
	}
	fmt.Fprint(&buf, "},\n")

	fmt.Fprint(&buf, "Data: []uint8{\n")
	pixelIndex := 0
	for y := 0; y < bounds.Size().Y; y++ {
		for x := 0; x < bounds.Size().X; x, pixelIndex = x+1, pixelIndex+1 {
			if pixelIndex != 0 && pixelIndex%16 == 0 {
				buf.WriteByte('\n')
			}
			r, g, b, _ := img.At(x, y).RGBA()
			colorIndex := colorToPalIndex[color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b)}]
			fmt.Fprintf(&buf, "0x%x, ", colorIndex)
		}
	}
	fmt.Fprint(&buf, "\n},\n}\n)\n")
	fmt.Fprintf(&buf, "func init(){\navailableLogos = append(availableLogos, &%s)\n}\n", logoVarName)

	return buf.String(), nil
}

// formatSource pretty-prints generated Go source via go/printer, the same
// way a human-written file would be gofmt'd.
func formatSource(src string) (string, error) {
	fset := token.NewFileSet()
	astFile, err := parser.ParseFile(fset, "", src, parser.ParseComments)
	if err != nil {
		return "", err
	}

	var out bytes.Buffer
	if err := printer.Fprint(&out, fset, astFile); err != nil {
		return "", err
	}
	return out.String(), nil
}
