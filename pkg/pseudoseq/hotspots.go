package pseudoseq

import (
	"archive/zip"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sbinet/npyio"
)

// ChainPositions is the hotspot position set of one chain. Key is the
// array name inside the archive; archive order encodes chain order, so
// LoadHotspots preserves it.
type ChainPositions struct {
	Key       string
	Positions []int
}

// LoadHotspots reads a hotspots.npz artifact written by the folding stage:
// a zip of npy arrays, one per chain, each an Nx2 integer matrix whose
// second column holds aligned residue positions. Positions come back
// sorted with duplicates removed.
func LoadHotspots(path string) ([]ChainPositions, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open hotspot archive %s: %w", path, err)
	}
	defer r.Close()

	chains := make([]ChainPositions, 0, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s in %s: %w", f.Name, path, err)
		}
		positions, err := readPositions(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("array %s in %s: %w", f.Name, path, err)
		}
		chains = append(chains, ChainPositions{
			Key:       strings.TrimSuffix(f.Name, ".npy"),
			Positions: positions,
		})
	}

	if len(chains) == 0 {
		return nil, fmt.Errorf("hotspot archive %s holds no arrays", path)
	}
	return chains, nil
}

// readPositions pulls the position column out of one Nx2 hotspot array.
func readPositions(r io.Reader) ([]int, error) {
	npy, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}

	shape := npy.Header.Descr.Shape
	if len(shape) != 2 || shape[1] != 2 {
		return nil, fmt.Errorf("want an Nx2 matrix, got shape %v", shape)
	}

	// numpy writes <i8 on linux and <i4 on windows; accept both.
	var data []int64
	switch dtype := npy.Header.Descr.Type; dtype {
	case "<i8", "int64":
		if err := npy.Read(&data); err != nil {
			return nil, err
		}
	case "<i4", "int32":
		var narrow []int32
		if err := npy.Read(&narrow); err != nil {
			return nil, err
		}
		data = make([]int64, len(narrow))
		for i, v := range narrow {
			data[i] = int64(v)
		}
	default:
		return nil, fmt.Errorf("want an integer matrix, got dtype %q", dtype)
	}

	seen := make(map[int]bool, shape[0])
	positions := make([]int, 0, shape[0])
	for i := 0; i < shape[0]; i++ {
		// column 1 sits at every second element row-major, in the back
		// half column-major
		idx := i*2 + 1
		if npy.Header.Descr.Fortran {
			idx = shape[0] + i
		}
		pos := int(data[idx])
		if pos < 0 {
			return nil, fmt.Errorf("negative position %d at row %d", pos, i)
		}
		if seen[pos] {
			continue
		}
		seen[pos] = true
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	return positions, nil
}
