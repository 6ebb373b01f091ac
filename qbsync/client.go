package qbsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to the QuickBooks Online accounting API. It only knows how to
// execute authenticated calls and translate error bodies; credential state is
// the token manager's business.
type Client struct {
	baseURL      string
	minorVersion string
	http         *http.Client
}

func NewClient() *Client {
	baseURL := strings.TrimSpace(os.Getenv("QB_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://quickbooks.api.intuit.com"
	}
	minorVersion := strings.TrimSpace(os.Getenv("QB_API_MINOR_VERSION"))
	if minorVersion == "" {
		minorVersion = "70"
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		minorVersion: minorVersion,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithBaseURL is used by tests to point the client at an httptest server.
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// RemoteResult carries the created resource's identity back to the caller.
type RemoteResult struct {
	QuickbooksId string
	SyncToken    string
	Raw          json.RawMessage
}

type faultBody struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

type remoteEntity struct {
	Id        string `json:"Id"`
	SyncToken string `json:"SyncToken"`
}

// Create posts a transformed payload to the realm-scoped create endpoint, e.g.
// entity "invoice" -> POST /v3/company/{realmId}/invoice.
func (c *Client) Create(ctx context.Context, realmId string, entity string, payload interface{}, accessToken string) (*RemoteResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/v3/company/%s/%s?minorversion=%s", c.baseURL, realmId, entity, c.minorVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorBody(resp.StatusCode, respBody)
	}

	return parseCreateResponse(respBody)
}

// parseErrorBody prefers the structured fault object when present; 401/403
// surface as auth failures via classifyError on HttpError.
func parseErrorBody(statusCode int, body []byte) error {
	if statusCode != 401 && statusCode != 403 {
		var fault faultBody
		if err := json.Unmarshal(body, &fault); err == nil && len(fault.Fault.Error) > 0 {
			first := fault.Fault.Error[0]
			detail := strings.TrimSpace(first.Detail)
			if detail == "" {
				detail = strings.TrimSpace(first.Message)
			}
			return &RemoteFault{Code: first.Code, Detail: detail}
		}
	}
	return &HttpError{StatusCode: statusCode, Body: strings.TrimSpace(string(body))}
}

// parseCreateResponse unwraps {"Invoice": {...}, "time": "..."} style bodies
// without hardcoding the entity key.
func parseCreateResponse(body []byte) (*RemoteResult, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("unexpected create response: %w", err)
	}
	for key, raw := range envelope {
		if key == "time" {
			continue
		}
		var entity remoteEntity
		if err := json.Unmarshal(raw, &entity); err != nil {
			continue
		}
		if entity.Id != "" {
			return &RemoteResult{
				QuickbooksId: entity.Id,
				SyncToken:    entity.SyncToken,
				Raw:          raw,
			}, nil
		}
	}
	return nil, fmt.Errorf("create response missing entity id")
}
