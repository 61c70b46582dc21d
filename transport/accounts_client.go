// Package transport talks to the remote accounts API. The same GET serves as
// the token validity probe and as the account listing.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-feed-refresh/auth"
	"github.com/goliatone/go-feed-refresh/core"
)

const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestSigner attaches the access token to an outbound request.
type RequestSigner interface {
	Sign(ctx context.Context, req *http.Request, accessToken string) error
}

type AccountsClient struct {
	Client               HTTPDoer
	Signer               RequestSigner
	BaseURL              string
	AccountsPath         string
	MaxResponseBodyBytes int64
	Observer             core.Observer
}

type response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

func NewAccountsClient(client HTTPDoer, baseURL string, accountsPath string) *AccountsClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AccountsClient{
		Client:               client,
		Signer:               auth.BasicTokenSigner{},
		BaseURL:              baseURL,
		AccountsPath:         accountsPath,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

// NewAccountsClientFromConfig builds a client that presents the configured
// certificate pair on every request.
func NewAccountsClientFromConfig(cfg core.APIConfig, observer core.Observer) (*AccountsClient, error) {
	httpClient, err := auth.NewMTLSClient(auth.MTLSConfig{
		CertPath: cfg.CertPath,
		KeyPath:  cfg.KeyPath,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: load mtls client credentials",
			http.StatusBadRequest,
			map[string]any{"cert_path": cfg.CertPath, "key_path": cfg.KeyPath},
		)
	}
	client := NewAccountsClient(httpClient, cfg.BaseURL, cfg.AccountsPath)
	client.Observer = observer
	return client, nil
}

// IsValid probes the accounts endpoint once. Transport failures, non-2xx
// statuses and bodies mentioning "error" all count as invalid.
func (c *AccountsClient) IsValid(ctx context.Context, accessToken string) bool {
	startedAt := time.Now()
	fields := map[string]any{"token": core.RedactToken(accessToken)}

	res, err := c.get(ctx, accessToken)
	if err != nil {
		c.Observer.ObserveOperation(ctx, startedAt, "verify_token", err, fields)
		return false
	}
	fields["status_code"] = res.StatusCode
	if res.StatusCode < 200 || res.StatusCode > 299 {
		c.Observer.ObserveOperation(ctx, startedAt, "verify_token", core.ValidationError(""), fields)
		return false
	}
	if bytes.Contains(bytes.ToLower(res.Body), []byte("error")) {
		fields["reason"] = "error in response body"
		c.Observer.ObserveOperation(ctx, startedAt, "verify_token", core.ValidationError(""), fields)
		return false
	}
	c.Observer.ObserveOperation(ctx, startedAt, "verify_token", nil, fields)
	return true
}

// FetchAccounts returns the account array exactly as the API sent it.
func (c *AccountsClient) FetchAccounts(ctx context.Context, accessToken string) ([]core.Account, error) {
	startedAt := time.Now()
	fields := map[string]any{"token": core.RedactToken(accessToken)}

	accounts, err := c.fetchAccounts(ctx, accessToken)
	if err == nil {
		fields["accounts"] = len(accounts)
	}
	c.Observer.ObserveOperation(ctx, startedAt, "fetch_accounts", err, fields)
	return accounts, err
}

func (c *AccountsClient) fetchAccounts(ctx context.Context, accessToken string) ([]core.Account, error) {
	res, err := c.get(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, core.NetworkError(
			nil,
			fmt.Sprintf("transport: accounts api responded %d %s", res.StatusCode, http.StatusText(res.StatusCode)),
			map[string]any{"status_code": res.StatusCode},
		)
	}
	var accounts []core.Account
	if err := json.Unmarshal(res.Body, &accounts); err != nil {
		return nil, core.NetworkError(err, "transport: accounts response is not a json array", map[string]any{
			"status_code": res.StatusCode,
		})
	}
	if accounts == nil {
		accounts = []core.Account{}
	}
	return accounts, nil
}

func (c *AccountsClient) get(ctx context.Context, accessToken string) (response, error) {
	if c == nil || c.Client == nil {
		return response{}, transportError(
			"transport: accounts client requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint, err := c.endpoint()
	if err != nil {
		return response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"url": endpoint},
		)
	}
	httpReq.Header.Set("Accept", "application/json")
	signer := c.Signer
	if signer == nil {
		signer = auth.BasicTokenSigner{}
	}
	if err := signer.Sign(ctx, httpReq, accessToken); err != nil {
		return response{}, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: sign request",
			http.StatusBadRequest,
			nil,
		)
	}

	startedAt := time.Now()
	httpRes, err := c.Client.Do(httpReq)
	if err != nil {
		return response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"url": endpoint},
		)
	}
	defer httpRes.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return response{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}
	if int64(len(body)) > limit {
		return response{}, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit},
		)
	}
	return response{
		StatusCode: httpRes.StatusCode,
		Body:       body,
		Duration:   time.Since(startedAt),
	}, nil
}

func (c *AccountsClient) endpoint() (string, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	path := strings.TrimSpace(c.AccountsPath)
	if path == "" {
		path = core.DefaultAccountsPath
	}
	raw := base + "/" + strings.TrimLeft(path, "/")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid accounts url",
			http.StatusBadRequest,
			map[string]any{"url": raw},
		)
	}
	return parsed.String(), nil
}

var (
	_ core.TokenVerifier   = (*AccountsClient)(nil)
	_ core.AccountsFetcher = (*AccountsClient)(nil)
)
