package index

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/chunkstore/interfaces"
)

// record is the stored form of an index entry. Exactly one of the meta
// variants is set.
type record struct {
	Layer         string                       `cbor:"layer"`
	CorrelationID string                       `cbor:"cid"`
	Tags          []string                     `cbor:"tags,omitempty"`
	Properties    map[string]string            `cbor:"props,omitempty"`
	XML           *interfaces.XMLChunkMeta     `cbor:"xml,omitempty"`
	GeoJSON       *interfaces.GeoJSONChunkMeta `cbor:"geojson,omitempty"`
}

func encodeEntry(e interfaces.IndexEntry) ([]byte, error) {
	r := record{
		Layer:         e.Layer,
		CorrelationID: e.CorrelationID,
		Tags:          e.Tags,
		Properties:    e.Properties,
	}
	switch m := e.Meta.(type) {
	case *interfaces.XMLChunkMeta:
		r.XML = m
	case *interfaces.GeoJSONChunkMeta:
		r.GeoJSON = m
	default:
		return nil, fmt.Errorf("unsupported chunk metadata %T", e.Meta)
	}
	return cbor.Marshal(r)
}

func decodeEntry(path string, data []byte) (interfaces.IndexEntry, error) {
	var r record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return interfaces.IndexEntry{}, fmt.Errorf("%w: decoding index entry %s: %w", interfaces.ErrStorage, path, err)
	}

	e := interfaces.IndexEntry{
		Path:          path,
		Layer:         r.Layer,
		CorrelationID: r.CorrelationID,
		Tags:          r.Tags,
		Properties:    r.Properties,
	}
	switch {
	case r.XML != nil:
		e.Meta = r.XML
	case r.GeoJSON != nil:
		e.Meta = r.GeoJSON
	default:
		return interfaces.IndexEntry{}, fmt.Errorf("%w: index entry %s has no metadata", interfaces.ErrStorage, path)
	}
	return e, nil
}
