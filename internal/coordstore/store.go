// Package coordstore persists node coordinates as a headerless binary file of
// fixed 24-byte little-endian records: (int64 id, float64 lat, float64 lon).
// Only nodes referenced by at least one accepted way are written, which keeps
// the store proportional to routing-relevant nodes rather than the full
// source document.
package coordstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
)

// RecordSize is the fixed on-disk size of one coordinate record.
const RecordSize = 24

// Coord is a node's position.
type Coord struct {
	Lat float64
	Lon float64
}

// Write persists the coordinates of every id in keep that is present in
// coords, sorted by id for determinism. The file is written to a temp path
// and renamed so a crash never leaves a truncated store behind.
func Write(path string, coords map[int64]Coord, keep map[int64]struct{}) (int64, error) {
	ids := make([]int64, 0, len(keep))
	for id := range keep {
		if _, ok := coords[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create coordinate store: %w", err)
	}

	w := bufio.NewWriterSize(f, 1<<20)
	var rec [RecordSize]byte
	for _, id := range ids {
		c := coords[id]
		binary.LittleEndian.PutUint64(rec[0:8], uint64(id))
		binary.LittleEndian.PutUint64(rec[8:16], math.Float64bits(c.Lat))
		binary.LittleEndian.PutUint64(rec[16:24], math.Float64bits(c.Lon))
		if _, err := w.Write(rec[:]); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("failed to write coordinate record: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to flush coordinate store: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to sync coordinate store: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to rename coordinate store: %w", err)
	}

	return int64(len(ids)), nil
}

// Load memory-maps the store and reads every record into an id->coordinate
// map. This is bounded by construction: the store only holds routing-relevant
// nodes.
func Load(path string) (map[int64]Coord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinate store: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat coordinate store: %w", err)
	}

	size := info.Size()
	if size%RecordSize != 0 {
		return nil, fmt.Errorf("corrupt coordinate store: size %d is not a multiple of %d", size, RecordSize)
	}
	if size == 0 {
		return map[int64]Coord{}, nil
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap coordinate store: %w", err)
	}
	defer data.Unmap()

	coords := make(map[int64]Coord, size/RecordSize)
	for off := int64(0); off < size; off += RecordSize {
		id := int64(binary.LittleEndian.Uint64(data[off : off+8]))
		lat := math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16]))
		lon := math.Float64frombits(binary.LittleEndian.Uint64(data[off+16 : off+24]))
		coords[id] = Coord{Lat: lat, Lon: lon}
	}

	return coords, nil
}
