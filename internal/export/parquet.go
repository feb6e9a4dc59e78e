// Package export writes a region's routing graph to Parquet files for
// offline analysis and bulk hand-off to other tools.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"go.uber.org/zap"

	"github.com/wegman-software/trailgraph/internal/graph"
	"github.com/wegman-software/trailgraph/internal/logger"
	"github.com/wegman-software/trailgraph/internal/storage"
)

const defaultBatchSize = 10000

func writerProps() *parquet.WriterProperties {
	return parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)
}

// nodeWriter writes routing nodes to Parquet.
type nodeWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newNodeWriter(path string, batchSize int) (*nodeWriter, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "osm_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "lat", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "lon", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "edge_count", Type: arrow.PrimitiveTypes.Int32, Nullable: false},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps(), pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &nodeWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

func (w *nodeWriter) write(n *graph.RoutingNode) error {
	w.builder.Field(0).(*array.Int64Builder).Append(n.OsmID)
	w.builder.Field(1).(*array.Float64Builder).Append(n.Lat)
	w.builder.Field(2).(*array.Float64Builder).Append(n.Lon)
	w.builder.Field(3).(*array.Int32Builder).Append(int32(len(n.Edges)))

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *nodeWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

func (w *nodeWriter) close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

// edgeWriter writes directed edges to Parquet, one row per edge.
type edgeWriter struct {
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
}

func newEdgeWriter(path string, batchSize int) (*edgeWriter, error) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "from_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "to_id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "distance_m", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "way_type", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "surface", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "bidirectional", Type: arrow.FixedWidthTypes.Boolean, Nullable: false},
	}, nil)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps(), pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &edgeWriter{
		file:      f,
		writer:    writer,
		builder:   array.NewRecordBuilder(memory.DefaultAllocator, schema),
		batchSize: batchSize,
	}, nil
}

func (w *edgeWriter) write(fromID int64, e graph.RoutingEdge) error {
	w.builder.Field(0).(*array.Int64Builder).Append(fromID)
	w.builder.Field(1).(*array.Int64Builder).Append(e.ToNodeID)
	w.builder.Field(2).(*array.Float64Builder).Append(e.DistanceM)
	w.builder.Field(3).(*array.StringBuilder).Append(e.WayType.String())
	w.builder.Field(4).(*array.StringBuilder).Append(e.Surface.String())
	w.builder.Field(5).(*array.BooleanBuilder).Append(e.Bidirectional)

	w.count++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

func (w *edgeWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

func (w *edgeWriter) close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := w.writer.Close(); err != nil {
		return err
	}
	return w.file.Close()
}

// Region writes <regionID>_nodes.parquet and <regionID>_edges.parquet into
// outDir by streaming the region's nodes once.
func Region(ctx context.Context, store storage.Store, regionID, outDir string) error {
	log := logger.Get()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	nw, err := newNodeWriter(filepath.Join(outDir, regionID+"_nodes.parquet"), defaultBatchSize)
	if err != nil {
		return fmt.Errorf("failed to create node writer: %w", err)
	}
	ew, err := newEdgeWriter(filepath.Join(outDir, regionID+"_edges.parquet"), defaultBatchSize)
	if err != nil {
		nw.close()
		return fmt.Errorf("failed to create edge writer: %w", err)
	}

	var nodeRows, edgeRows int64
	err = store.ScanNodes(ctx, regionID, func(n *graph.RoutingNode) error {
		if err := nw.write(n); err != nil {
			return err
		}
		nodeRows++
		for _, e := range n.Edges {
			if err := ew.write(n.OsmID, e); err != nil {
				return err
			}
			edgeRows++
		}
		return nil
	})
	if err != nil {
		nw.close()
		ew.close()
		return fmt.Errorf("failed to export region %q: %w", regionID, err)
	}

	if err := nw.close(); err != nil {
		return fmt.Errorf("failed to finish node file: %w", err)
	}
	if err := ew.close(); err != nil {
		return fmt.Errorf("failed to finish edge file: %w", err)
	}

	log.Info("Region exported",
		zap.String("region", regionID),
		zap.Int64("node_rows", nodeRows),
		zap.Int64("edge_rows", edgeRows),
		zap.String("dir", outDir))
	return nil
}
