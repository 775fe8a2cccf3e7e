package interfaces

import (
	"strings"
)

// Mime types reported by chunk metadata.
const (
	MimeTypeXML     = "application/xml"
	MimeTypeGeoJSON = "application/geo+json"
)

// XMLHeader starts every XML chunk and merged document.
const XMLHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n"

// XMLSchemaInstanceURI is the namespace bound to xsi:schemaLocation.
const XMLSchemaInstanceURI = "http://www.w3.org/2001/XMLSchema-instance"

// ChunkMeta describes where the payload of a stored chunk is located
// and how it relates to the document it was split from.
//
// Implementations are pointer types. XML strategies compare metadata by
// value, so a meta decoded again from the index may be merged. The GeoJSON
// strategy counts chunks by pointer identity, so callers must pass the same
// pointer to Init and Merge.
type ChunkMeta interface {
	// StartOffset returns the position of the first payload byte in the chunk.
	StartOffset() int

	// EndOffset returns the position after the last payload byte.
	EndOffset() int

	// MimeType returns the media type of the original document.
	MimeType() string
}

// XMLNamespace binds a prefix (empty for the default namespace) to a URI.
type XMLNamespace struct {
	Prefix string `json:"prefix"`
	URI    string `json:"uri"`
}

// XMLAttribute is a single attribute on a start element.
type XMLAttribute struct {
	Prefix    string `json:"prefix,omitempty"`
	LocalName string `json:"local_name"`
	Value     string `json:"value"`
}

// Name returns the qualified attribute name.
func (a XMLAttribute) Name() string {
	if a.Prefix == "" {
		return a.LocalName
	}
	return a.Prefix + ":" + a.LocalName
}

// XMLStartElement is an immutable description of an XML open tag,
// with its namespace declarations and attributes kept in document order.
type XMLStartElement struct {
	Prefix     string         `json:"prefix,omitempty"`
	LocalName  string         `json:"local_name"`
	Namespaces []XMLNamespace `json:"namespaces,omitempty"`
	Attributes []XMLAttribute `json:"attributes,omitempty"`
}

// Name returns the qualified element name.
func (e XMLStartElement) Name() string {
	if e.Prefix == "" {
		return e.LocalName
	}
	return e.Prefix + ":" + e.LocalName
}

// NamespaceURI returns the URI bound to prefix by this element.
func (e XMLStartElement) NamespaceURI(prefix string) (string, bool) {
	for _, ns := range e.Namespaces {
		if ns.Prefix == prefix {
			return ns.URI, true
		}
	}
	return "", false
}

// String serializes the element as an open tag.
func (e XMLStartElement) String() string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(e.Name())
	for _, ns := range e.Namespaces {
		sb.WriteString(" xmlns")
		if ns.Prefix != "" {
			sb.WriteByte(':')
			sb.WriteString(ns.Prefix)
		}
		sb.WriteString(`="`)
		sb.WriteString(EscapeXMLAttr(ns.URI))
		sb.WriteByte('"')
	}
	for _, a := range e.Attributes {
		sb.WriteByte(' ')
		sb.WriteString(a.Name())
		sb.WriteString(`="`)
		sb.WriteString(EscapeXMLAttr(a.Value))
		sb.WriteByte('"')
	}
	sb.WriteByte('>')
	return sb.String()
}

// Equal reports whether both elements have the same name, namespaces and
// attributes in the same order.
func (e XMLStartElement) Equal(other XMLStartElement) bool {
	if e.Prefix != other.Prefix || e.LocalName != other.LocalName ||
		len(e.Namespaces) != len(other.Namespaces) || len(e.Attributes) != len(other.Attributes) {
		return false
	}
	for i := range e.Namespaces {
		if e.Namespaces[i] != other.Namespaces[i] {
			return false
		}
	}
	for i := range e.Attributes {
		if e.Attributes[i] != other.Attributes[i] {
			return false
		}
	}
	return true
}

var attrEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"\t", "&#x9;",
	"\n", "&#xA;",
	"\r", "&#xD;",
)

// EscapeXMLAttr escapes s for use inside a double quoted attribute value.
func EscapeXMLAttr(s string) string {
	return attrEscaper.Replace(s)
}

// XMLChunkMeta is the metadata of a chunk split from an XML document.
//
// Parents holds the ancestor chain of the chunk's payload, outermost
// element first. Parents[0] is the root of the original document.
type XMLChunkMeta struct {
	Parents []XMLStartElement `json:"parents"`
	Start   int               `json:"start"`
	End     int               `json:"end"`
}

func (m *XMLChunkMeta) StartOffset() int { return m.Start }
func (m *XMLChunkMeta) EndOffset() int   { return m.End }
func (m *XMLChunkMeta) MimeType() string { return MimeTypeXML }

// Root returns the outermost ancestor of the chunk, if any.
func (m *XMLChunkMeta) Root() (XMLStartElement, bool) {
	if len(m.Parents) == 0 {
		return XMLStartElement{}, false
	}
	return m.Parents[0], true
}

// GeoJSONChunkMeta is the metadata of a chunk split from a GeoJSON document.
//
// Type is the GeoJSON type of the chunk (Feature, Polygon, ...).
// ParentFieldName is "features" or "geometries" when the chunk was an
// element of a collection and empty when it was the whole document.
type GeoJSONChunkMeta struct {
	Type            string `json:"type"`
	ParentFieldName string `json:"parent_field_name,omitempty"`
	Start           int    `json:"start"`
	End             int    `json:"end"`
}

func (m *GeoJSONChunkMeta) StartOffset() int { return m.Start }
func (m *GeoJSONChunkMeta) EndOffset() int   { return m.End }
func (m *GeoJSONChunkMeta) MimeType() string { return MimeTypeGeoJSON }
