package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// HTTPClient is a Client backed by the catalogue's REST API, grounded in the
// teacher's pkg/health/http.go request/response shape: a context-aware
// *http.Client, JSON bodies, status-code gating. No REST client library in
// the example pack fits a bespoke catalogue schema better than net/http, so
// this stays on the standard library (see SPEC_FULL.md §6).
type HTTPClient struct {
	baseURL string
	client  *http.Client
	apiKey  string
}

// NewHTTPClient builds an HTTPClient against baseURL (e.g.
// "https://catalogue.example.com/api/v1"). apiKey, if non-empty, is sent as
// an "Authorization: Bearer <key>" header on every request.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("catalogue: encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("catalogue: build url: %w", err)
	}
	u, err := url.JoinPath(c.baseURL, ref.EscapedPath())
	if err != nil {
		return fmt.Errorf("catalogue: build url: %w", err)
	}
	if ref.RawQuery != "" {
		u += "?" + ref.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("catalogue: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalogue: request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("catalogue: %s %s: HTTP %d %s: %s", method, path, resp.StatusCode, http.StatusText(resp.StatusCode), payload)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("catalogue: decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) FindOrCreateProduct(ctx context.Context, p *types.Product) (*types.Product, error) {
	var out types.Product
	if err := c.do(ctx, http.MethodPost, "/product/", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FindOrCreateProductInstance(ctx context.Context, pi *types.ProductInstance) (*types.ProductInstance, error) {
	var out types.ProductInstance
	if err := c.do(ctx, http.MethodPost, "/productinstance/", pi, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FindOrCreateData(ctx context.Context, d *types.Data) (*types.Data, error) {
	var out types.Data
	if err := c.do(ctx, http.MethodPost, "/data/", d, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FindOrCreateFormat(ctx context.Context, f *types.Format) (*types.Format, error) {
	var out types.Format
	if err := c.do(ctx, http.MethodPost, "/format/", f, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) FindOrCreateServiceBackend(ctx context.Context, sb *types.ServiceBackend) (*types.ServiceBackend, error) {
	var out types.ServiceBackend
	if err := c.do(ctx, http.MethodPost, "/servicebackend/", sb, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) SaveDataInstance(ctx context.Context, di *types.DataInstance) (*types.DataInstance, error) {
	var out types.DataInstance
	if err := c.do(ctx, http.MethodPost, "/datainstance/", di, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetDataInstance(ctx context.Context, uuid string) (*types.DataInstance, error) {
	var out types.DataInstance
	if err := c.do(ctx, http.MethodGet, "/datainstance/"+url.PathEscape(uuid)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListDataInstancesByProductInstance(ctx context.Context, productInstanceUUID string) ([]*types.DataInstance, error) {
	var out []*types.DataInstance
	path := "/datainstance/?productinstance=" + url.QueryEscape(productInstanceUUID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Client = (*HTTPClient)(nil)
