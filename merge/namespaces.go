package merge

import (
	"fmt"
	"strings"

	"github.com/ruteri/chunkstore/interfaces"
)

// NamespaceStrategy merges XML chunks whose roots differ in namespace
// declarations and attributes. The merged root carries the union of all
// namespaces and attributes, with attributes keyed by local name and the
// first occurrence kept. xsi:schemaLocation values are combined pairwise.
type NamespaceStrategy struct {
	*xmlStrategy
}

// NewNamespaceStrategy creates a namespace merging strategy.
func NewNamespaceStrategy() *NamespaceStrategy {
	return &NamespaceStrategy{newXMLStrategy("namespace", mergeRoots)}
}

func mergeRoots(acc, root interfaces.XMLStartElement) (interfaces.XMLStartElement, error) {
	if acc.Prefix != root.Prefix || acc.LocalName != root.LocalName {
		return acc, fmt.Errorf("%w: root elements %s and %s differ", interfaces.ErrNamespaceConflict, acc.Name(), root.Name())
	}

	namespaces := append([]interfaces.XMLNamespace(nil), acc.Namespaces...)
	for _, ns := range root.Namespaces {
		uri, ok := acc.NamespaceURI(ns.Prefix)
		if !ok {
			namespaces = append(namespaces, ns)
			continue
		}
		if uri != ns.URI {
			return acc, fmt.Errorf("%w: prefix %q is bound to %q and %q", interfaces.ErrNamespaceConflict, ns.Prefix, uri, ns.URI)
		}
	}

	attributes := append([]interfaces.XMLAttribute(nil), acc.Attributes...)
	accSchema := schemaLocationIndex(acc, attributes)
	for _, a := range root.Attributes {
		if isSchemaLocation(root, a) {
			if accSchema < 0 {
				attributes = append(attributes, a)
				accSchema = len(attributes) - 1
				continue
			}
			attributes[accSchema].Value = mergeSchemaLocations(attributes[accSchema].Value, a.Value)
			continue
		}
		if !hasAttribute(attributes, a.LocalName) {
			attributes = append(attributes, a)
		}
	}

	return interfaces.XMLStartElement{
		Prefix:     acc.Prefix,
		LocalName:  acc.LocalName,
		Namespaces: namespaces,
		Attributes: attributes,
	}, nil
}

func isSchemaLocation(e interfaces.XMLStartElement, a interfaces.XMLAttribute) bool {
	if a.LocalName != "schemaLocation" || a.Prefix == "" {
		return false
	}
	uri, ok := e.NamespaceURI(a.Prefix)
	return ok && uri == interfaces.XMLSchemaInstanceURI
}

func schemaLocationIndex(e interfaces.XMLStartElement, attributes []interfaces.XMLAttribute) int {
	for i, a := range attributes {
		if isSchemaLocation(e, a) {
			return i
		}
	}
	return -1
}

// hasAttribute reports whether an attribute with the given local name is
// present, whatever its prefix.
func hasAttribute(attributes []interfaces.XMLAttribute, localName string) bool {
	for _, a := range attributes {
		if a.LocalName == localName {
			return true
		}
	}
	return false
}

// mergeSchemaLocations combines two "uri location ..." lists keyed by uri,
// keeping the first location seen for every uri. A trailing uri without a
// location is dropped.
func mergeSchemaLocations(a, b string) string {
	var (
		seen  = make(map[string]struct{})
		pairs []string
	)
	for _, value := range []string{a, b} {
		fields := strings.Fields(value)
		for i := 0; i+1 < len(fields); i += 2 {
			if _, ok := seen[fields[i]]; ok {
				continue
			}
			seen[fields[i]] = struct{}{}
			pairs = append(pairs, fields[i], fields[i+1])
		}
	}
	return strings.Join(pairs, " ")
}
