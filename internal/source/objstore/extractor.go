package objstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"iter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// DefaultChunkSize is the byte-range size used when the extract section
// leaves it unset.
const DefaultChunkSize int64 = 4 << 20

// Extractor reads one CSV object in caller-sized byte ranges and yields
// each range's complete rows as a record batch. There is no server-side
// cursor: the position is just the next byte offset, and the last chunk
// may be shorter than the configured size.
//
// Rows crossing a range boundary are carried into the next chunk, so
// batch boundaries follow byte ranges only approximately; order is exact.
type Extractor struct {
	store Store
	log   zerolog.Logger

	key       string
	renameMap map[string]string
}

var _ stage.Extractor = (*Extractor)(nil)

func init() {
	stage.RegisterExtractor("objstore", func(_ context.Context, a stage.Args) (stage.Extractor, error) {
		base, err := a.RequireString("base_url")
		if err != nil {
			return nil, err
		}
		store, err := newHTTPStore(base, time.Duration(a.Int("timeout_seconds", 0))*time.Second)
		if err != nil {
			return nil, err
		}
		return NewExtractor(store, loggerFrom(a)), nil
	})
}

// loggerFrom reads the optional logger injected into init args; registry
// construction stays silent without one.
func loggerFrom(a stage.Args) zerolog.Logger {
	if l, ok := a["logger"].(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// NewExtractor wraps a Store; ownership of the store passes to the
// extractor, which closes it on Teardown.
func NewExtractor(store Store, log zerolog.Logger) *Extractor {
	return &Extractor{store: store, log: log}
}

// Connect is a no-op: the store is stateless and every read authenticates
// itself. It exists to satisfy the extractor contract.
func (e *Extractor) Connect(context.Context) error { return nil }

// CheckSourceExists probes the object key assembled from args. Not-found
// is a clean false; other failures propagate.
func (e *Extractor) CheckSourceExists(ctx context.Context, args stage.Args) (bool, error) {
	key, err := objectKey(args)
	if err != nil {
		return false, err
	}
	_, found, err := e.store.Head(ctx, key)
	return found, err
}

// PrepareExtraction binds the object key and the optional header rename
// map applied to CSV columns.
func (e *Extractor) PrepareExtraction(_ context.Context, args stage.Args) error {
	key, err := objectKey(args)
	if err != nil {
		return err
	}
	e.key = key
	e.renameMap = nil
	if m, ok := args["rename_map"].(map[string]any); ok {
		e.renameMap = make(map[string]string, len(m))
		for from, to := range m {
			s, ok := to.(string)
			if !ok {
				return errs.Config("rename_map values must be strings, got %T for %q", to, from)
			}
			e.renameMap[from] = s
		}
	}
	if m, ok := args["rename_map"].(map[string]string); ok {
		e.renameMap = m
	}
	return nil
}

// ExtractBatches reads the object range by range. The first chunk has its
// UTF-8 BOM stripped and supplies the header; every complete row in each
// chunk becomes one record keyed by (renamed) header names.
func (e *Extractor) ExtractBatches(ctx context.Context, args stage.Args) iter.Seq2[records.Batch, error] {
	chunkSize := int64(args.Int("chunk_size", 0))
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return func(yield func(records.Batch, error) bool) {
		if e.key == "" {
			yield(nil, errs.Config("extraction not prepared: call PrepareExtraction first"))
			return
		}
		size, found, err := e.store.Head(ctx, e.key)
		if err != nil {
			yield(nil, err)
			return
		}
		if !found {
			yield(nil, errs.Source("objstore", errs.Config("object %q disappeared between check and extract", e.key)))
			return
		}

		var (
			header []string
			carry  []byte
			off    int64
		)
		for off < size {
			length := chunkSize
			if off+length > size {
				length = size - off
			}
			chunk, err := e.readChunk(ctx, off, length)
			if err != nil {
				yield(nil, err)
				return
			}
			off += length
			last := off >= size

			data := append(carry, chunk...)
			complete := data
			carry = nil
			if !last {
				cut := bytes.LastIndexByte(data, '\n')
				if cut < 0 {
					carry = data
					continue
				}
				complete = data[:cut+1]
				carry = append([]byte(nil), data[cut+1:]...)
			}

			batch, hdr, err := e.parseRows(complete, header)
			if err != nil {
				yield(nil, err)
				return
			}
			header = hdr
			if len(batch) == 0 {
				continue
			}
			e.log.Debug().Int("rows", len(batch)).Int64("offset", off).Msg("chunk extracted")
			if !yield(batch, nil) {
				return
			}
		}
	}
}

// Teardown closes the store; failures are logged, never returned.
func (e *Extractor) Teardown(context.Context) {
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("failed to close object store")
	}
}

// readChunk pulls one byte range, stripping the BOM from offset zero.
func (e *Extractor) readChunk(ctx context.Context, off, length int64) ([]byte, error) {
	rc, err := e.store.GetRange(ctx, e.key, off, length)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var r io.Reader = rc
	if off == 0 {
		// Sources exported as "utf-8-sig" carry a BOM that must not leak
		// into the first header name.
		r = transform.NewReader(rc, unicode.BOMOverride(transform.Nop))
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Source("objstore", err)
	}
	return data, nil
}

// parseRows parses complete CSV lines into records. The first parsed line
// of the run is the header (after renaming); short rows keep only the
// columns present, long rows drop the excess.
func (e *Extractor) parseRows(data []byte, header []string) (records.Batch, []string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var batch records.Batch
	for {
		row, err := r.Read()
		if err == io.EOF {
			return batch, header, nil
		}
		if err != nil {
			return nil, header, errs.Source("objstore", err)
		}
		if header == nil {
			header = make([]string, len(row))
			for i, name := range row {
				if to, ok := e.renameMap[name]; ok {
					name = to
				}
				header[i] = name
			}
			continue
		}
		rec := make(records.Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		batch = append(batch, rec)
	}
}

// objectKey assembles the structured key <source_type>/<data_type>/<path_suffix>/<file_name>.<file_format>.
func objectKey(args stage.Args) (string, error) {
	sourceType, err := args.RequireString("source_type")
	if err != nil {
		return "", err
	}
	dataType, err := args.RequireString("data_type")
	if err != nil {
		return "", err
	}
	suffix, err := args.RequireString("path_suffix")
	if err != nil {
		return "", err
	}
	format, err := args.RequireString("file_format")
	if err != nil {
		return "", err
	}
	name := args.String("file_name", "latest")
	return sourceType + "/" + dataType + "/" + suffix + "/" + name + "." + format, nil
}
