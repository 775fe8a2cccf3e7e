package splitter

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/ruteri/chunkstore/interfaces"
)

// XMLSplitter emits one chunk for every child element of the document root.
//
// Every chunk repeats the XML header and the full chain of ancestor open tags
// before the element and closes them after it, so each chunk is a well-formed
// document. Only UTF-8 input is supported.
type XMLSplitter struct{}

func (XMLSplitter) Split(ctx context.Context, r io.Reader, emit func(Chunk) error) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var (
		d       = xml.NewDecoder(bytes.NewReader(data))
		parents []interfaces.XMLStartElement
		open    []xml.Name
		mark    int64 = -1
		depth   int
		sawRoot bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		offset := d.InputOffset()
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %w", interfaces.ErrInvalidDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			open = append(open, t.Name)
			switch {
			case mark >= 0:
				depth++
			case len(parents) == 0 && sawRoot:
				return fmt.Errorf("%w: more than one root element", interfaces.ErrInvalidDocument)
			case len(parents) == 1:
				mark, depth = offset, 1
			default:
				parents = append(parents, startElement(t))
				sawRoot = true
			}

		case xml.EndElement:
			if len(open) == 0 || open[len(open)-1] != t.Name {
				return fmt.Errorf("%w: unexpected end element %s", interfaces.ErrInvalidDocument, t.Name.Local)
			}
			open = open[:len(open)-1]

			if mark >= 0 {
				depth--
				if depth > 0 {
					continue
				}
				chunk := makeChunk(parents, data[mark:d.InputOffset()])
				mark = -1
				if err := emit(chunk); err != nil {
					return err
				}
				continue
			}
			parents = parents[:len(parents)-1]
		}
	}

	if !sawRoot {
		return fmt.Errorf("%w: no root element", interfaces.ErrInvalidDocument)
	}
	if mark >= 0 || len(parents) > 0 {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidDocument, io.ErrUnexpectedEOF)
	}
	return nil
}

func makeChunk(parents []interfaces.XMLStartElement, element []byte) Chunk {
	var buf bytes.Buffer
	buf.WriteString(interfaces.XMLHeader)
	for _, p := range parents {
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}
	start := buf.Len()
	buf.Write(element)
	end := buf.Len()
	for i := len(parents) - 1; i >= 0; i-- {
		buf.WriteString("\n</" + parents[i].Name() + ">")
	}

	return Chunk{
		Data: buf.Bytes(),
		Meta: &interfaces.XMLChunkMeta{
			Parents: append([]interfaces.XMLStartElement(nil), parents...),
			Start:   start,
			End:     end,
		},
	}
}

// startElement converts a raw start token, where Name.Space holds the
// literal prefix, into an XMLStartElement.
func startElement(t xml.StartElement) interfaces.XMLStartElement {
	e := interfaces.XMLStartElement{
		Prefix:    t.Name.Space,
		LocalName: t.Name.Local,
	}
	for _, a := range t.Attr {
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			e.Namespaces = append(e.Namespaces, interfaces.XMLNamespace{URI: a.Value})
		case a.Name.Space == "xmlns":
			e.Namespaces = append(e.Namespaces, interfaces.XMLNamespace{Prefix: a.Name.Local, URI: a.Value})
		default:
			e.Attributes = append(e.Attributes, interfaces.XMLAttribute{
				Prefix:    a.Name.Space,
				LocalName: a.Name.Local,
				Value:     a.Value,
			})
		}
	}
	return e
}
