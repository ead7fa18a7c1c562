package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"pios/kernel/fs"
)

// buildSpec describes one disk image to produce: its size in sectors and
// the host files to copy into it, each mapped to an absolute path inside
// the new file system.
type buildSpec struct {
	sectors uint32
	files   []fileMapping
}

// fileMapping is one --file flag: a host path copied verbatim into the
// image at imagePath, creating any missing parent directories along the
// way.
type fileMapping struct {
	hostPath  string
	imagePath string
}

// parseFileMapping splits a "host[:image]" flag value. If no ":image" is
// given, the image path defaults to the host path's base name placed at
// the file system root.
func parseFileMapping(spec string) (fileMapping, error) {
	if spec == "" {
		return fileMapping{}, fmt.Errorf("empty --file value")
	}

	host, image, found := strings.Cut(spec, ":")
	if !found {
		image = "/" + path.Base(host)
	}
	if !strings.HasPrefix(image, "/") {
		image = "/" + image
	}

	return fileMapping{hostPath: host, imagePath: image}, nil
}

// ensureDirs creates every missing directory component of path (an
// absolute image path), tolerating components that already exist.
func ensureDirs(p *fs.Partition, imagePath string) error {
	dir := path.Dir(imagePath)
	if dir == "/" || dir == "." {
		return nil
	}

	built := ""
	for _, comp := range strings.Split(strings.Trim(dir, "/"), "/") {
		built += "/" + comp
		if err := fs.Mkdir(p, built); err != nil && err != fs.ErrAlreadyExists {
			return fmt.Errorf("mkdir %s: %w", built, err)
		}
	}
	return nil
}

// copyFile streams hostPath's contents into a freshly created file at
// imagePath inside p.
func copyFile(p *fs.Partition, m fileMapping) error {
	if err := ensureDirs(p, m.imagePath); err != nil {
		return err
	}

	src, err := os.Open(m.hostPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.hostPath, err)
	}
	defer src.Close()

	h, err := fs.Create(p, m.imagePath)
	if err != nil {
		return fmt.Errorf("create %s: %w", m.imagePath, err)
	}

	buf := make([]byte, fs.SectorSize*8)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := fs.Write(h, buf[:n]); werr != nil {
				fs.Global.Close(h)
				return fmt.Errorf("write %s: %w", m.imagePath, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			fs.Global.Close(h)
			return fmt.Errorf("read %s: %w", m.hostPath, rerr)
		}
	}

	fs.Global.Close(h)
	return nil
}

// buildImage formats a fresh in-memory partition, copies every requested
// file into it, and returns the backing MemDisk ready to be flushed to a
// host file.
func buildImage(spec buildSpec) (*fs.MemDisk, error) {
	disk := fs.NewMemDisk(spec.sectors)
	p, err := fs.Mount("disk", disk, 0, spec.sectors)
	if err != nil {
		return nil, fmt.Errorf("format: %w", err)
	}

	for _, m := range spec.files {
		if err := copyFile(p, m); err != nil {
			return nil, err
		}
	}

	return disk, nil
}

// writeImage flushes every sector of disk, in order, to outPath.
func writeImage(disk *fs.MemDisk, outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, sector := range disk.Sectors {
		if _, err := f.Write(sector[:]); err != nil {
			return err
		}
	}
	return nil
}
