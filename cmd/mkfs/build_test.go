package main

import (
	"os"
	"path/filepath"
	"testing"

	"pios/kernel/fs"
)

func TestParseFileMapping(t *testing.T) {
	cases := []struct {
		in        string
		wantHost  string
		wantImage string
	}{
		{"README.md", "README.md", "/README.md"},
		{"local/init.bin:/bin/init", "local/init.bin", "/bin/init"},
		{"a.txt:etc/a.txt", "a.txt", "/etc/a.txt"},
	}

	for _, c := range cases {
		m, err := parseFileMapping(c.in)
		if err != nil {
			t.Fatalf("parseFileMapping(%q): %v", c.in, err)
		}
		if m.hostPath != c.wantHost || m.imagePath != c.wantImage {
			t.Fatalf("parseFileMapping(%q) = %+v, want host=%q image=%q", c.in, m, c.wantHost, c.wantImage)
		}
	}
}

func TestParseFileMappingRejectsEmpty(t *testing.T) {
	if _, err := parseFileMapping(""); err == nil {
		t.Fatal("expected an error for an empty --file value")
	}
}

func TestBuildImageCopiesFilesAndCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	hostFile := filepath.Join(dir, "hello.txt")
	if err := os.WriteFile(hostFile, []byte("hello, pios"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	spec := buildSpec{
		sectors: 4096,
		files: []fileMapping{
			{hostPath: hostFile, imagePath: "/bin/hello.txt"},
		},
	}

	disk, err := buildImage(spec)
	if err != nil {
		t.Fatalf("buildImage: %v", err)
	}

	p, err := fs.Mount("check", disk, 0, spec.sectors)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	h, err := fs.Open(p, "/bin/hello.txt", false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	buf := make([]byte, 64)
	n, err := fs.Read(h, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := string(buf[:n]); got != "hello, pios" {
		t.Fatalf("file contents = %q, want %q", got, "hello, pios")
	}
}

func TestWriteImageProducesFileOfExpectedSize(t *testing.T) {
	disk := fs.NewMemDisk(16)
	out := filepath.Join(t.TempDir(), "disk.img")

	if err := writeImage(disk, out); err != nil {
		t.Fatalf("writeImage: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 16*fs.SectorSize {
		t.Fatalf("image size = %d, want %d", info.Size(), 16*fs.SectorSize)
	}
}
