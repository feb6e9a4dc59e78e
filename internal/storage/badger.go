package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/state"
)

// Key layout:
//
//	n|<regionID>|<osmID big-endian>  -> lat, lon, edge blob
//	r|<regionID>                     -> region metadata JSON
//	s|<regionID>                     -> download state JSON
//
// Big-endian node ids keep prefix iteration in id order.
const (
	prefixNode   = 'n'
	prefixRegion = 'r'
	prefixState  = 's'
)

// BadgerOptions configures the embedded store.
type BadgerOptions struct {
	Path     string
	InMemory bool // testing only
}

// BadgerStore is the default on-device persistence engine.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (and creates if needed) the embedded database.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithSyncWrites(true)
	if opts.InMemory {
		bopts = bopts.WithDir("").WithValueDir("").WithInMemory(true).WithSyncWrites(false)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func nodeKey(regionID string, osmID int64) []byte {
	key := make([]byte, 0, len(regionID)+11)
	key = append(key, prefixNode, '|')
	key = append(key, regionID...)
	key = append(key, '|')
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(osmID))
	return append(key, id[:]...)
}

func nodePrefix(regionID string) []byte {
	return []byte(string(prefixNode) + "|" + regionID + "|")
}

func regionKey(regionID string) []byte {
	return []byte(string(prefixRegion) + "|" + regionID)
}

func stateKey(regionID string) []byte {
	return []byte(string(prefixState) + "|" + regionID)
}

// encodeNode packs a node as 16 bytes of coordinates followed by its edge
// blob, a single value per node.
func encodeNode(n *graph.RoutingNode) []byte {
	blob := graph.EncodeEdges(n.Edges)
	buf := make([]byte, 16, 16+len(blob))
	binary.LittleEndian.PutUint64(buf[0:8], math.Float64bits(n.Lat))
	binary.LittleEndian.PutUint64(buf[8:16], math.Float64bits(n.Lon))
	return append(buf, blob...)
}

func decodeNode(regionID string, osmID int64, val []byte) (*graph.RoutingNode, error) {
	if len(val) < 16 {
		return nil, fmt.Errorf("node value too short: %d bytes", len(val))
	}
	edges, err := graph.DecodeEdges(val[16:])
	if err != nil {
		return nil, err
	}
	return &graph.RoutingNode{
		RegionID: regionID,
		OsmID:    osmID,
		Lat:      math.Float64frombits(binary.LittleEndian.Uint64(val[0:8])),
		Lon:      math.Float64frombits(binary.LittleEndian.Uint64(val[8:16])),
		Edges:    edges,
	}, nil
}

// PutNodes inserts or replaces nodes in one write batch.
func (s *BadgerStore) PutNodes(ctx context.Context, nodes []*graph.RoutingNode) error {
	if len(nodes) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, n := range nodes {
		if err := wb.Set(nodeKey(n.RegionID, n.OsmID), encodeNode(n)); err != nil {
			return fmt.Errorf("failed to stage node %d: %w", n.OsmID, err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to commit node batch: %w", err)
	}
	return nil
}

// GetNodes fetches the requested nodes; missing ids are omitted.
func (s *BadgerStore) GetNodes(ctx context.Context, regionID string, ids []int64) (map[int64]*graph.RoutingNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[int64]*graph.RoutingNode, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(nodeKey(regionID, id))
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			node, err := decodeNode(regionID, id, val)
			if err != nil {
				return err
			}
			out[id] = node
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nodes: %w", err)
	}
	return out, nil
}

// NodeCount counts the persisted nodes of a region.
func (s *BadgerStore) NodeCount(ctx context.Context, regionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := nodePrefix(regionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// EdgeCount sums the directed edges across a region's nodes. Each value
// carries its edge count in the four bytes after the coordinates, so this is
// a prefix scan without blob decoding.
func (s *BadgerStore) EdgeCount(ctx context.Context, regionID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var total int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := nodePrefix(regionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				if len(val) >= 20 {
					total += int64(binary.LittleEndian.Uint32(val[16:20]))
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return total, nil
}

// ScanNodes streams a region's nodes to fn in ascending id order.
func (s *BadgerStore) ScanNodes(ctx context.Context, regionID string, fn func(*graph.RoutingNode) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := nodePrefix(regionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := item.Key()
			osmID := int64(binary.BigEndian.Uint64(key[len(key)-8:]))

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			node, err := decodeNode(regionID, osmID, val)
			if err != nil {
				return err
			}
			if err := fn(node); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutRegion saves region metadata.
func (s *BadgerStore) PutRegion(ctx context.Context, meta *graph.RegionMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode region metadata: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(regionKey(meta.RegionID), data)
	})
}

// GetRegion returns region metadata, or nil when absent.
func (s *BadgerStore) GetRegion(ctx context.Context, regionID string) (*graph.RegionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var meta *graph.RegionMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(regionKey(regionID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		meta = &graph.RegionMetadata{}
		return json.Unmarshal(val, meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch region metadata: %w", err)
	}
	return meta, nil
}

// ListRegions returns all region metadata records.
func (s *BadgerStore) ListRegions(ctx context.Context) ([]*graph.RegionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var regions []*graph.RegionMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(string(prefixRegion) + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			meta := &graph.RegionMetadata{}
			if err := json.Unmarshal(val, meta); err != nil {
				return err
			}
			regions = append(regions, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	return regions, nil
}

// DeleteRegion removes a region's metadata and all of its nodes.
func (s *BadgerStore) DeleteRegion(ctx context.Context, regionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Collect node keys first; deleting inside an iterator invalidates it.
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := nodePrefix(regionID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan region nodes: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to stage node delete: %w", err)
		}
	}
	if err := wb.Delete(regionKey(regionID)); err != nil {
		return fmt.Errorf("failed to stage metadata delete: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to delete region: %w", err)
	}
	return nil
}

// SaveState durably persists a download state.
func (s *BadgerStore) SaveState(ctx context.Context, ds *state.DownloadState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ds)
	if err != nil {
		return fmt.Errorf("failed to encode download state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(ds.RegionID), data)
	})
}

// LoadState returns the download state for a region, or nil when absent.
func (s *BadgerStore) LoadState(ctx context.Context, regionID string) (*state.DownloadState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ds *state.DownloadState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(regionID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		ds = &state.DownloadState{}
		return json.Unmarshal(val, ds)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load download state: %w", err)
	}
	return ds, nil
}

// ListStates returns all persisted download states.
func (s *BadgerStore) ListStates(ctx context.Context) ([]*state.DownloadState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var states []*state.DownloadState
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(string(prefixState) + "|")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			ds := &state.DownloadState{}
			if err := json.Unmarshal(val, ds); err != nil {
				return err
			}
			states = append(states, ds)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list download states: %w", err)
	}
	return states, nil
}

// DeleteState removes a region's download state.
func (s *BadgerStore) DeleteState(ctx context.Context, regionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(stateKey(regionID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}
