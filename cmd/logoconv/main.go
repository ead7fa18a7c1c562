// Command logoconv converts a png/jpeg/gif image into a Go source file
// defining a device/video/console/logo.Image, for compiling a boot logo
// directly into the kernel.
package main

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/spf13/cobra"
)

var (
	transR, transG, transB uint8
	varName                string
	align                  string
	outPath                string
)

var rootCmd = &cobra.Command{
	Use:   "logoconv [image]",
	Short: "Convert an image into a console boot-logo Go source file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogoconv,
}

func init() {
	flags := rootCmd.Flags()
	flags.Uint8Var(&transR, "trans-r", 255, "red component of the transparent color")
	flags.Uint8Var(&transG, "trans-g", 0, "green component of the transparent color")
	flags.Uint8Var(&transB, "trans-b", 255, "blue component of the transparent color")
	flags.StringVar(&varName, "var-name", "logo", "base name of the generated Image variable")
	flags.StringVar(&align, "align", "center", "horizontal alignment: left, center or right")
	flags.StringVar(&outPath, "out", "-", "output file, or - for stdout")
}

func runLogoconv(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return err
	}

	transColor := color.RGBA{R: transR, G: transG, B: transB}
	src, err := genLogoSource(img, transColor, varName, align)
	if err != nil {
		return err
	}

	formatted, err := formatSource(src)
	if err != nil {
		return err
	}

	if outPath == "-" {
		fmt.Print(formatted)
		return nil
	}

	return os.WriteFile(outPath, []byte(formatted), 0644)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "logoconv: %s\n", err)
		os.Exit(1)
	}
}
