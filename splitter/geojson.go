package splitter

import (
	"bytes"
	"context"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/ruteri/chunkstore/interfaces"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type geoJSONObject struct {
	Type       string                `json:"type"`
	Features   []jsoniter.RawMessage `json:"features"`
	Geometries []jsoniter.RawMessage `json:"geometries"`
}

// GeoJSONSplitter emits one chunk per member of a FeatureCollection or
// GeometryCollection. Any other GeoJSON object is stored as a single chunk.
type GeoJSONSplitter struct{}

func (GeoJSONSplitter) Split(ctx context.Context, r io.Reader, emit func(Chunk) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	data = bytes.TrimSpace(data)

	var obj geoJSONObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidDocument, err)
	}
	if obj.Type == "" {
		return fmt.Errorf("%w: GeoJSON object has no type", interfaces.ErrInvalidDocument)
	}

	var (
		members []jsoniter.RawMessage
		field   string
	)
	switch obj.Type {
	case "FeatureCollection":
		members, field = obj.Features, "features"
	case "GeometryCollection":
		members, field = obj.Geometries, "geometries"
	default:
		return emit(Chunk{
			Data: data,
			Meta: &interfaces.GeoJSONChunkMeta{Type: obj.Type, End: len(data)},
		})
	}

	for i, member := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		typ := json.Get(member, "type").ToString()
		if typ == "" {
			return fmt.Errorf("%w: %s[%d] has no type", interfaces.ErrInvalidDocument, field, i)
		}
		err := emit(Chunk{
			Data: member,
			Meta: &interfaces.GeoJSONChunkMeta{
				Type:            typ,
				ParentFieldName: field,
				End:             len(member),
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}
