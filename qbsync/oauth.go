package qbsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// OAuthClient speaks the Intuit OAuth2 token endpoint for both the initial
// authorization-code exchange and refresh-token rotation.
type OAuthClient struct {
	tokenURL     string
	authorizeURL string
	clientID     string
	clientSecret string
	redirectURI  string
	http         *http.Client
}

func NewOAuthClient() *OAuthClient {
	tokenURL := strings.TrimSpace(os.Getenv("QB_TOKEN_URL"))
	if tokenURL == "" {
		tokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	}
	authorizeURL := strings.TrimSpace(os.Getenv("QB_AUTHORIZE_URL"))
	if authorizeURL == "" {
		authorizeURL = "https://appcenter.intuit.com/connect/oauth2"
	}
	return &OAuthClient{
		tokenURL:     tokenURL,
		authorizeURL: authorizeURL,
		clientID:     strings.TrimSpace(os.Getenv("QB_CLIENT_ID")),
		clientSecret: strings.TrimSpace(os.Getenv("QB_CLIENT_SECRET")),
		redirectURI:  strings.TrimSpace(os.Getenv("QB_REDIRECT_URI")),
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

// NewOAuthClientWithTokenURL is used by tests.
func NewOAuthClientWithTokenURL(tokenURL string) *OAuthClient {
	c := NewOAuthClient()
	c.tokenURL = tokenURL
	return c
}

// TokenResponse mirrors the token endpoint body. Intuit reports the refresh
// lifetime as x_refresh_token_expires_in; some gateways use the unprefixed
// name, so both are accepted.
type TokenResponse struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token"`
	TokenType             string `json:"token_type"`
	ExpiresIn             int64  `json:"expires_in"`
	XRefreshExpiresIn     int64  `json:"x_refresh_token_expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
}

// RefreshLifetimeSeconds returns the reported refresh-token lifetime, or 0
// when the endpoint omitted it.
func (t TokenResponse) RefreshLifetimeSeconds() int64 {
	if t.XRefreshExpiresIn > 0 {
		return t.XRefreshExpiresIn
	}
	return t.RefreshTokenExpiresIn
}

func (c *OAuthClient) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("response_type", "code")
	params.Set("scope", "com.intuit.quickbooks.accounting")
	params.Set("redirect_uri", c.redirectURI)
	params.Set("state", state)
	return c.authorizeURL + "?" + params.Encode()
}

func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURI)
	return c.postTokenForm(ctx, form)
}

func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.postTokenForm(ctx, form)
}

func (c *OAuthClient) postTokenForm(ctx context.Context, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HttpError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var token TokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" || token.RefreshToken == "" {
		return nil, &HttpError{StatusCode: resp.StatusCode, Body: "token response missing credentials"}
	}
	return &token, nil
}
