package api

import "strings"

// Query parameters understood by the store endpoint.
const (
	// SearchParam holds the query selecting chunks for GET and DELETE.
	SearchParam = "search"

	// TagsParam holds comma-separated tags attached to imported chunks.
	TagsParam = "tags"

	// PropsParam holds comma-separated key:value properties attached to
	// imported chunks.
	PropsParam = "props"

	// CorrelationIDParam optionally fixes the correlation id of an import.
	CorrelationIDParam = "correlation_id"
)

// StorePath is the path prefix of the store endpoint.
const StorePath = "/store"

// ImportResponse is returned by the store endpoint after an import.
type ImportResponse struct {
	// CorrelationID is shared by all chunks of the imported document.
	CorrelationID string `json:"correlation_id"`

	// Chunks is the number of chunks the document was split into.
	Chunks int `json:"chunks"`
}

// DeleteResponse reports the outcome of a delete per chunk path.
type DeleteResponse struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// LayerPath returns the store endpoint path for layer.
func LayerPath(layer string) string {
	layer = strings.Trim(layer, "/")
	if layer == "" {
		return StorePath + "/"
	}
	return StorePath + "/" + layer + "/"
}

// ParseList splits a comma-separated parameter value, dropping empty items.
func ParseList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseProperties parses comma-separated key:value (or key=value) pairs.
// Items without a separator are ignored.
func ParseProperties(value string) map[string]string {
	props := make(map[string]string)
	for _, item := range ParseList(value) {
		k, v, ok := strings.Cut(item, ":")
		if !ok {
			k, v, ok = strings.Cut(item, "=")
		}
		if ok && strings.TrimSpace(k) != "" {
			props[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if len(props) == 0 {
		return nil
	}
	return props
}

// FormatProperties renders props in the form ParseProperties accepts.
func FormatProperties(props map[string]string) string {
	items := make([]string, 0, len(props))
	for k, v := range props {
		items = append(items, k+":"+v)
	}
	return strings.Join(items, ",")
}
