package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ruteri/chunkstore/api"
	"github.com/ruteri/chunkstore/interfaces"
)

// StoreClient talks to the store endpoint of a chunk store server.
type StoreClient struct {
	// ServerAddr is the base URL of the server
	ServerAddr string

	// HTTPClient is used for all requests; http.DefaultClient when nil
	HTTPClient *http.Client
}

// NewStoreClient creates a client for the server at addr.
func NewStoreClient(addr string) *StoreClient {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &StoreClient{ServerAddr: strings.TrimRight(addr, "/")}
}

// Import uploads the document read from r into layer. An empty contentType
// lets the server detect the document type.
func (c *StoreClient) Import(ctx context.Context, layer string, r io.Reader, contentType string, opts interfaces.AddOptions) (*api.ImportResponse, error) {
	params := url.Values{}
	if len(opts.Tags) > 0 {
		params.Set(api.TagsParam, strings.Join(opts.Tags, ","))
	}
	if len(opts.Properties) > 0 {
		params.Set(api.PropsParam, api.FormatProperties(opts.Properties))
	}
	if opts.CorrelationID != "" {
		params.Set(api.CorrelationIDParam, opts.CorrelationID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(layer, params), r)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.do(req, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed api.ImportResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse import response: %w", err)
	}
	return &parsed, nil
}

// Export streams the merged document of every chunk in layer matching
// query to w and returns the number of bytes written.
func (c *StoreClient) Export(ctx context.Context, layer, query string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(layer, searchParams(query)), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.do(req, http.StatusOK)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: export interrupted after %d bytes: %w", interfaces.ErrStorage, n, err)
	}
	return n, nil
}

// Delete removes every chunk in layer matching query.
func (c *StoreClient) Delete(ctx context.Context, layer, query string) (*api.DeleteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.url(layer, searchParams(query)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request store endpoint: %w", err)
	}
	defer resp.Body.Close()

	var parsed api.DeleteResponse
	if resp.Header.Get("Content-Type") != "application/json" {
		return nil, responseError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("could not parse delete response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &parsed, fmt.Errorf("%w: %d of %d chunks could not be deleted",
			statusError(resp.StatusCode), len(parsed.Failed), len(parsed.Failed)+len(parsed.Deleted))
	}
	return &parsed, nil
}

func (c *StoreClient) url(layer string, params url.Values) string {
	u := c.ServerAddr + api.LayerPath(layer)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *StoreClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *StoreClient) do(req *http.Request, expected int) (*http.Response, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not request store endpoint: %w", err)
	}
	if resp.StatusCode != expected {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp, nil
}

func searchParams(query string) url.Values {
	params := url.Values{}
	if query != "" {
		params.Set(api.SearchParam, query)
	}
	return params
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return fmt.Errorf("%w: store endpoint returned %d", statusError(resp.StatusCode), resp.StatusCode)
	}
	return fmt.Errorf("%w: store endpoint returned error %d: %s",
		statusError(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(body)))
}

// statusError maps a response status back onto a store error.
func statusError(status int) error {
	switch status {
	case http.StatusNotFound:
		return interfaces.ErrChunkNotFound
	case http.StatusConflict:
		return interfaces.ErrNamespaceConflict
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return interfaces.ErrInvalidDocument
	case http.StatusBadGateway:
		return interfaces.ErrStorage
	default:
		return interfaces.ErrBackendUnavailable
	}
}
