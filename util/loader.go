// Package util - Helpers for locating tensor dumps on disk.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DumpFile is a tensor dump found in a directory.
type DumpFile struct {
	// Path is the path to the dump file.
	Path string
	// Frame is the frame number parsed from the file name.
	Frame int
}

// LoadDirectoryDumpFiles lists the tensor dumps of a directory in frame order.
//
// Dumps are named frame-<n>.json; other entries are skipped.
//
// Arguments:
// - dir: Directory path containing dump files.
//
// Returns:
// - []DumpFile: The dumps sorted by frame number.
// - error: Error if the directory cannot be read or a frame number is malformed.
func LoadDirectoryDumpFiles(dir string) ([]DumpFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dump directory %s", dir)
	}

	var dumps []DumpFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "frame-") || filepath.Ext(name) != ".json" {
			continue
		}
		frame, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "frame-"), ".json"))
		if err != nil {
			return nil, errors.Wrapf(err, "frame number of %s", name)
		}
		dumps = append(dumps, DumpFile{Path: filepath.Join(dir, name), Frame: frame})
	}

	sort.Slice(dumps, func(i, j int) bool {
		return dumps[i].Frame < dumps[j].Frame
	})

	return dumps, nil
}
