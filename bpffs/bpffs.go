// Package bpffs checks that a directory lives on a mounted BPF
// filesystem before objects are pinned under it.
package bpffs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultMountInfoPath is the path to the mountinfo file.
	DefaultMountInfoPath = "/proc/self/mountinfo"

	// Some runtimes produce very long mountinfo lines.
	maxLineLen = 1024 * 1024
)

// MountPoints returns every bpffs mount point listed in
// mountInfoPath, in file order.
//
// Each line has the form documented in proc(5):
//
//	mount_id parent_id major:minor root mount_point options [optional_fields...] - fstype source super_options
//
// The optional fields make the position of fstype variable, so the
// " - " separator is searched for instead of counting fields.
func MountPoints(mountInfoPath string) ([]string, error) {
	file, err := os.Open(mountInfoPath)
	if err != nil {
		return nil, fmt.Errorf("opening mountinfo: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLen)

	var mounts []string
	for scanner.Scan() {
		line := scanner.Text()

		prefix, suffix, ok := strings.Cut(line, " - ")
		if !ok {
			continue
		}
		fields := strings.Fields(prefix)
		suffixFields := strings.Fields(suffix)
		if len(fields) < 5 || len(suffixFields) < 1 {
			continue
		}
		if suffixFields[0] == "bpf" {
			mounts = append(mounts, fields[4])
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mountinfo: %w", err)
	}
	return mounts, nil
}

// Enclosing returns the bpffs mount point that dir lives under, or ""
// if dir is not on a bpffs. dir must be absolute; it need not exist
// yet.
func Enclosing(mountInfoPath, dir string) (string, error) {
	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("pin directory %q is not absolute", dir)
	}
	dir = filepath.Clean(dir)

	mounts, err := MountPoints(mountInfoPath)
	if err != nil {
		return "", err
	}

	best := ""
	for _, m := range mounts {
		if (dir == m || strings.HasPrefix(dir, m+string(filepath.Separator))) && len(m) > len(best) {
			best = m
		}
	}
	return best, nil
}
