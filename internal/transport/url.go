package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// defaultURLTimeout bounds a Url action's fetch independent of cancellation,
// so a hung peer cannot stall an AOE activation indefinitely.
const defaultURLTimeout = 30 * time.Second

// FetchActionSpec implements the `Url` action (spec.md §4.4): it fetches
// an ActionSpec payload from endpoint and returns it for recursive
// execution. Per SPEC_FULL.md §5's resolution of the cancellation Open
// Question, the request is cancellable at the HTTP response boundary: ctx
// is derived from the AOE's cancel channel, so a cancel signal aborts the
// dial/write phase immediately, while a response body already being read
// is allowed to finish or error out.
func FetchActionSpec(ctx context.Context, client *http.Client, endpoint string) (*domain.ActionSpec, error) {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, defaultURLTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.FunctionError{Name: "url", Reason: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.FunctionError{Name: "url", Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.FunctionError{Name: "url", Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.FunctionError{Name: "url", Reason: err.Error()}
	}

	var spec domain.ActionSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		return nil, &domain.FunctionError{Name: "url", Reason: err.Error()}
	}
	return &spec, nil
}
