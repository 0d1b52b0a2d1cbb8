package archive

import (
	"fmt"
	"strings"
)

// Format selects the archive container and compressor.
type Format int

const (
	TarGz Format = iota
	TarZst
)

func (f Format) String() string {
	switch f {
	case TarZst:
		return "tar.zst"
	default:
		return "tar.gz"
	}
}

// Ext returns the canonical file extension, including the leading dot.
func (f Format) Ext() string {
	switch f {
	case TarZst:
		return ".tar.zst"
	default:
		return ".tar.gz"
	}
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tar.gz", "targz", "gz", "gzip":
		return TarGz, nil
	case "tar.zst", "tarzst", "zst", "zstd":
		return TarZst, nil
	default:
		return TarGz, fmt.Errorf("unknown archive format %q (want 'tar.gz' or 'tar.zst')", s)
	}
}

// FormatForPath infers the format from an archive filename.
func FormatForPath(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TarGz, nil
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return TarZst, nil
	default:
		return TarGz, fmt.Errorf("cannot infer archive format from %q", path)
	}
}

// Level selects the compression effort.
type Level int

const (
	Default Level = iota
	Fastest
	Better
	Best
)

// ParseLevel converts a configuration string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return Default, nil
	case "fastest", "fast":
		return Fastest, nil
	case "better":
		return Better, nil
	case "best":
		return Best, nil
	default:
		return Default, fmt.Errorf("unknown compression level %q", s)
	}
}
