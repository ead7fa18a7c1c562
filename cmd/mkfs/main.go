// Command mkfs builds a disk image for the kernel's inode-based
// file system: it formats a fresh partition of the requested size and
// copies host files into it at chosen image paths.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	outFlag     string
	sectorsFlag uint32
	fileFlags   []string
)

var rootCmd = &cobra.Command{
	Use:   "mkfs",
	Short: "Build a disk image for the kernel's file system.",
	RunE:  runMkfs,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&outFlag, "out", "", "path of the disk image file to write (required)")
	flags.Uint32Var(&sectorsFlag, "sectors", 65536, "number of 512-byte sectors in the image")
	flags.StringArrayVar(&fileFlags, "file", nil, "host[:image] file to copy into the image; repeatable")
	rootCmd.MarkFlagRequired("out")
}

func runMkfs(cmd *cobra.Command, args []string) error {
	spec := buildSpec{sectors: sectorsFlag}
	for _, raw := range fileFlags {
		m, err := parseFileMapping(raw)
		if err != nil {
			return err
		}
		spec.files = append(spec.files, m)
	}

	disk, err := buildImage(spec)
	if err != nil {
		return err
	}

	if err := writeImage(disk, outFlag); err != nil {
		return fmt.Errorf("write %s: %w", outFlag, err)
	}

	fmt.Printf("wrote %s (%d sectors, %d files)\n", outFlag, spec.sectors, len(spec.files))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}
}
