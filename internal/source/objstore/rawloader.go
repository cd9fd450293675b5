package objstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/internal/stage"
)

// timeNow is swapped in tests to pin object key timestamps.
var timeNow = time.Now

// RawLoader writes extracted payloads into raw storage under the
// structured key layout <source_type>/<data_type>/<path_suffix>/: one
// timestamped object plus a "latest" alias overwritten on every load.
type RawLoader struct {
	store Store
	log   zerolog.Logger
}

var _ stage.RawLoader = (*RawLoader)(nil)

// NewRawLoader wraps a Store for raw writes.
func NewRawLoader(store Store, log zerolog.Logger) *RawLoader {
	return &RawLoader{store: store, log: log}
}

// Load encodes data per processing_type and writes both keys.
//
// Supported processing types: "csv_binary" (re-encode a raw CSV payload,
// dropping any BOM) and "ndjson" (a list of records serialized as JSON
// lines). The extension of both keys follows the processing type.
func (l *RawLoader) Load(ctx context.Context, data any, args stage.Args) error {
	sourceType, err := args.RequireString("source_type")
	if err != nil {
		return err
	}
	dataType, err := args.RequireString("data_type")
	if err != nil {
		return err
	}
	suffix, err := args.RequireString("path_suffix")
	if err != nil {
		return err
	}
	processing, err := args.RequireString("processing_type")
	if err != nil {
		return err
	}

	payload, ext, err := encodePayload(data, processing)
	if err != nil {
		return err
	}

	prefix := fmt.Sprintf("%s/%s/%s", sourceType, dataType, suffix)
	key := fmt.Sprintf("%s/%d.%s", prefix, timeNow().Unix(), ext)
	if err := l.store.Put(ctx, key, payload); err != nil {
		return err
	}
	latest := fmt.Sprintf("%s/latest.%s", prefix, ext)
	if err := l.store.Put(ctx, latest, payload); err != nil {
		return err
	}
	l.log.Info().Str("key", key).Int("bytes", len(payload)).Msg("raw payload stored")
	return nil
}

// Teardown closes the store; failures are warnings.
func (l *RawLoader) Teardown(context.Context) {
	if err := l.store.Close(); err != nil {
		l.log.Warn().Err(err).Msg("failed to close object store")
	}
}

func encodePayload(data any, processing string) ([]byte, string, error) {
	switch processing {
	case "csv_binary":
		raw, ok := data.([]byte)
		if !ok {
			return nil, "", errs.Config("csv_binary processing needs []byte input, got %T", data)
		}
		out, err := normalizeCSV(raw)
		if err != nil {
			return nil, "", err
		}
		return out, "csv", nil
	case "ndjson":
		list, ok := data.([]map[string]any)
		if !ok {
			if anyList, isAny := data.([]any); isAny {
				list = make([]map[string]any, 0, len(anyList))
				for _, e := range anyList {
					m, isMap := e.(map[string]any)
					if !isMap {
						return nil, "", errs.Config("ndjson processing needs a list of objects, got element %T", e)
					}
					list = append(list, m)
				}
			} else {
				return nil, "", errs.Config("ndjson processing needs a list of objects, got %T", data)
			}
		}
		var b bytes.Buffer
		enc := json.NewEncoder(&b)
		for _, m := range list {
			if err := enc.Encode(m); err != nil {
				return nil, "", errs.Config("cannot encode ndjson row: %v", err)
			}
		}
		return b.Bytes(), "ndjson", nil
	default:
		return nil, "", errs.Config("unsupported processing type %q", processing)
	}
}

// normalizeCSV re-encodes a CSV payload through a strict writer, dropping
// a leading BOM and normalizing quoting and line endings.
func normalizeCSV(raw []byte) ([]byte, error) {
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, errs.Config("cannot parse csv payload: %v", err)
	}
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return nil, errs.Config("cannot rewrite csv payload: %v", err)
	}
	return b.Bytes(), nil
}
