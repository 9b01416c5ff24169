package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/civitas-labs/strategist/internal/config"
	"github.com/civitas-labs/strategist/internal/model"
)

// ContextSource supplies the political background for a ward. A
// failing source never aborts an analysis; the orchestrator proceeds
// with an empty context.
type ContextSource interface {
	FetchWardContext(ctx context.Context, ward string) (model.WardContext, error)
}

// HTTPContextSource fetches ward context from the data layer over
// HTTP.
type HTTPContextSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPContextSource creates a source against the configured data
// layer.
func NewHTTPContextSource(cfg config.WardDataConfig) *HTTPContextSource {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPContextSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPContextSource) FetchWardContext(ctx context.Context, ward string) (model.WardContext, error) {
	endpoint := fmt.Sprintf("%s/wards/%s", s.baseURL, url.PathEscape(ward))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.WardContext{}, eris.Wrap(err, "wardctx: create request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return model.WardContext{}, eris.Wrapf(err, "wardctx: fetch %s", ward)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.WardContext{}, eris.Errorf("wardctx: fetch %s: status %d: %s", ward, resp.StatusCode, string(body))
	}

	var wc model.WardContext
	if err := json.NewDecoder(resp.Body).Decode(&wc); err != nil {
		return model.WardContext{}, eris.Wrapf(err, "wardctx: decode %s", ward)
	}
	if wc.Ward == "" {
		wc.Ward = ward
	}
	return wc, nil
}

// StaticContextSource serves ward context from an in-memory table.
// Used when no data layer is configured, and in tests.
type StaticContextSource map[string]model.WardContext

func (s StaticContextSource) FetchWardContext(_ context.Context, ward string) (model.WardContext, error) {
	if wc, ok := s[ward]; ok {
		return wc, nil
	}
	return model.WardContext{Ward: ward}, nil
}
