// Package tushareapi is the vendorclient.Transport implementation that
// actually talks to the upstream Tushare-style HTTP API: one POST
// endpoint accepting {api_name, token, params} and returning
// {code, msg, data: {fields, items}} (spec §6 "Vendor credential token";
// original_source/tushare_client.go wraps this same wire contract behind
// the vendor's own Python SDK, `pro_api()`, which the retrieved source
// never exposes at the HTTP layer directly — this package is the Go
// rendering of that same documented vendor protocol).
package tushareapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
)

// Transport implements vendorclient.Transport against one Tushare-style
// HTTP endpoint.
type Transport struct {
	baseURL string
	token   string
	client  *http.Client
}

// New returns a Transport posting to baseURL with the given API token.
func New(baseURL, token string, timeout time.Duration) *Transport {
	return &Transport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// Do issues one request and decodes the response into a frame.Frame. A
// non-zero response code is reported as an error, matching spec §4.1's
// "never throw to the caller" contract one layer up in vendorclient.Client
// — Do still returns a Go error here, which Client converts to
// status="error" for its own caller.
func (t *Transport) Do(ctx context.Context, endpoint string, params map[string]string) (frame.Frame, error) {
	body, err := json.Marshal(apiRequest{APIName: endpoint, Token: t.token, Params: params})
	if err != nil {
		return frame.Frame{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return frame.Frame{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var decoded apiResponse
	if err := dec.Decode(&decoded); err != nil {
		return frame.Frame{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if decoded.Code != 0 {
		return frame.Frame{}, fmt.Errorf("%s returned code %d: %s", endpoint, decoded.Code, decoded.Msg)
	}

	return toFrame(decoded.Data.Fields, decoded.Data.Items), nil
}

// toFrame renders the vendor's columnar-field/row-item response shape
// into a frame.Frame, converting JSON numbers to decimal.Decimal so
// financial columns don't drift under float64 rendering (spec §3's Row
// value-type contract).
func toFrame(fields []string, items [][]interface{}) frame.Frame {
	rows := make([]frame.Row, len(items))
	for i, item := range items {
		row := make(frame.Row, len(fields))
		for j, field := range fields {
			if j >= len(item) {
				continue
			}
			row[field] = convertCell(item[j])
		}
		rows[i] = row
	}
	return frame.Frame{Columns: fields, Rows: rows}
}

func convertCell(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		if d, err := decimal.NewFromString(val.String()); err == nil {
			return d
		}
		return val.String()
	case float64:
		return decimal.NewFromFloat(val)
	default:
		return val
	}
}
