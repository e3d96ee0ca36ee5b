package guardian

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Second

// HTTPClient habla con un guardian remoto vía JSON sobre HTTP.
// El timeout del http.Client es un tope duro; el caller acota cada llamada
// con su propio context.WithTimeout.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

func NewHTTP(baseURL, token string, timeout time.Duration, log *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c *HTTPClient) ValidateAction(ctx context.Context, a Action) (Decision, error) {
	var out Decision
	if err := c.post(ctx, "/v1/actions/validate", a, &out); err != nil {
		return Decision{}, err
	}
	return out, nil
}

func (c *HTTPClient) MonitorBehavior(ctx context.Context, e Event) error {
	// Monitoreo es best-effort: el ack es el 2xx, sin body que interese.
	return c.post(ctx, "/v1/behavior", e, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("guardian http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
