package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the public tushare pro endpoint
const DefaultBaseURL = "http://api.tushare.pro"

// Row is one upstream record keyed by field name
type Row = map[string]interface{}

// Provider performs one parameterized upstream call returning tabular rows
type Provider interface {
	Call(ctx context.Context, apiName string, params map[string]interface{}) ([]Row, error)
}

// APIError is a non-zero response code from the upstream API
type APIError struct {
	APIName string
	Code    int
	Msg     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream api %s returned code %d: %s", e.APIName, e.Code, e.Msg)
}

// ErrUnauthorized is returned when the upstream rejects the token
var ErrUnauthorized = errors.New("upstream token rejected")

// TushareProvider calls a tushare-pro style HTTP JSON API
type TushareProvider struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewTushareProvider creates a provider for baseURL authenticated with token
func NewTushareProvider(baseURL, token string, timeout time.Duration) *TushareProvider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TushareProvider{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type tushareRequest struct {
	APIName string                 `json:"api_name"`
	Token   string                 `json:"token"`
	Params  map[string]interface{} `json:"params"`
	Fields  string                 `json:"fields"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// Call implements Provider. A "fields" param is sent as the field list.
func (p *TushareProvider) Call(ctx context.Context, apiName string, params map[string]interface{}) ([]Row, error) {
	req := tushareRequest{APIName: apiName, Token: p.token, Params: map[string]interface{}{}}
	for k, v := range params {
		if k == "fields" {
			req.Fields = fmt.Sprint(v)
			continue
		}
		req.Params[k] = v
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}

	var decoded tushareResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Code != 0 {
		apiErr := &APIError{APIName: apiName, Code: decoded.Code, Msg: decoded.Msg}
		if decoded.Code == 2002 {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
		}
		return nil, apiErr
	}
	if decoded.Data == nil {
		return nil, nil
	}

	rows := make([]Row, 0, len(decoded.Data.Items))
	for _, item := range decoded.Data.Items {
		row := make(Row, len(decoded.Data.Fields))
		for i, field := range decoded.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
