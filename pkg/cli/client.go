package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientOptions configures the admin API client.
type ClientOptions struct {
	Server string
	// UserID is sent as X-User-ID when the server trusts a gateway header
	UserID string

	// Client credentials; a bearer token is fetched when TokenURL is set
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	Timeout time.Duration
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client calls the curator admin API.
type Client struct {
	baseURL string
	userID  string
	http    *http.Client
}

// NewClient creates a client. With a token URL the underlying transport
// fetches and refreshes tokens with the OAuth2 client-credentials grant.
func NewClient(ctx context.Context, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: opts.Timeout}

	if opts.TokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     opts.TokenURL,
			Scopes:       opts.Scopes,
		}
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		httpClient = cc.Client(ctx)
		httpClient.Timeout = opts.Timeout
	}

	return &Client{
		baseURL: strings.TrimRight(opts.Server, "/") + "/api/v1",
		userID:  opts.UserID,
		http:    httpClient,
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) put(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set("X-User-ID", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			apiErr.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// clientFlags are shared by every command that talks to the server.
type clientFlags struct {
	server       *string
	user         *string
	tokenURL     *string
	clientID     *string
	clientSecret *string
	scopes       *string
	json         *bool
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		server:       fs.String("server", envOr("CURATOR_SERVER", "http://localhost:8080"), "Curator server URL"),
		user:         fs.String("user", os.Getenv("CURATOR_USER_ID"), "Caller user ID for header authentication"),
		tokenURL:     fs.String("token-url", os.Getenv("CURATOR_TOKEN_URL"), "OAuth2 token endpoint"),
		clientID:     fs.String("client-id", os.Getenv("CURATOR_CLIENT_ID"), "OAuth2 client ID"),
		clientSecret: fs.String("client-secret", os.Getenv("CURATOR_CLIENT_SECRET"), "OAuth2 client secret"),
		scopes:       fs.String("scopes", os.Getenv("CURATOR_SCOPES"), "Comma-separated OAuth2 scopes"),
		json:         fs.Bool("json", false, "Print raw JSON"),
	}
}

func (f *clientFlags) client(ctx context.Context) *Client {
	var scopes []string
	for _, s := range strings.Split(*f.scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return NewClient(ctx, ClientOptions{
		Server:       *f.server,
		UserID:       *f.user,
		TokenURL:     *f.tokenURL,
		ClientID:     *f.clientID,
		ClientSecret: *f.clientSecret,
		Scopes:       scopes,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
