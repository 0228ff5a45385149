package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Defaults for the HTTP client.
const (
	DefaultMaxConcurrent  = 8
	DefaultRequestTimeout = 15 * time.Second
	defaultUserAgent      = "gymapi-chat/1.0"
)

var (
	// ErrMissingBaseURL is returned when the client is built without the
	// provider endpoint.
	ErrMissingBaseURL = errors.New("provider: missing base url")
	// ErrMissingAPIKey is returned when the client is built without the
	// provider key pair.
	ErrMissingAPIKey = errors.New("provider: missing api key")
)

// HTTPClientConfig carries the connection settings for the real provider.
type HTTPClientConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	// MaxConcurrent bounds in-flight requests across all goroutines.
	MaxConcurrent int
	UserAgent     string
}

// HTTPClient implements Client over the provider's REST API. Every request
// authenticates with the api key and a server token signed from the secret,
// and passes through a semaphore so concurrent resolutions cannot stampede
// the provider.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	serverToken string
	httpClient  *http.Client
	userAgent   string
	semaphore   chan struct{}
}

// NewHTTPClient validates the configuration and returns a ready client.
func NewHTTPClient(config HTTPClientConfig) (*HTTPClient, error) {
	if strings.TrimSpace(config.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	if config.APIKey == "" || config.APISecret == "" {
		return nil, ErrMissingAPIKey
	}

	serverToken, err := signServerToken(config.APISecret)
	if err != nil {
		return nil, err
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	maxConcurrent := config.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &HTTPClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		serverToken: serverToken,
		httpClient:  httpClient,
		userAgent:   userAgent,
		semaphore:   make(chan struct{}, maxConcurrent),
	}, nil
}

// signServerToken mints the long-lived server credential the provider
// expects alongside the api key.
func signServerToken(apiSecret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true})
	signed, err := token.SignedString([]byte(apiSecret))
	if err != nil {
		return "", fmt.Errorf("provider: signing server token: %w", err)
	}
	return signed, nil
}

type apiUser struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Teams []string `json:"teams,omitempty"`
}

type apiChannel struct {
	Type      string            `json:"type"`
	ID        string            `json:"id"`
	CreatedBy string            `json:"created_by,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	Members   []string          `json:"members,omitempty"`
	Frozen    bool              `json:"frozen,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (c apiChannel) toChannel() Channel {
	return Channel{
		Type:      c.Type,
		ID:        c.ID,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
		MemberIDs: c.Members,
		Frozen:    c.Frozen,
		Metadata:  c.Metadata,
	}
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// UpsertUser creates or replaces a provider user.
func (c *HTTPClient) UpsertUser(ctx context.Context, user User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is empty", ErrInvalidRequest)
	}
	path := "/users/" + url.PathEscape(user.ID)
	payload := apiUser{ID: user.ID, Name: user.Name, Teams: user.Teams}
	return c.do(ctx, http.MethodPut, path, nil, payload, nil)
}

// DeleteUser removes a provider user.
func (c *HTTPClient) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil, nil, nil)
}

// CreateChannel registers a channel with the given id and creator.
func (c *HTTPClient) CreateChannel(ctx context.Context, channelType, channelID, creatorID string, metadata map[string]string) (Channel, error) {
	payload := struct {
		CreatedBy string            `json:"created_by"`
		Metadata  map[string]string `json:"metadata,omitempty"`
	}{CreatedBy: creatorID, Metadata: metadata}

	var out apiChannel
	err := c.do(ctx, http.MethodPost, c.channelPath(channelType, channelID), nil, payload, &out)
	if err != nil {
		return Channel{}, err
	}
	return out.toChannel(), nil
}

// QueryChannel fetches the provider's current view of a channel.
func (c *HTTPClient) QueryChannel(ctx context.Context, channelType, channelID string) (Channel, error) {
	var out apiChannel
	err := c.do(ctx, http.MethodGet, c.channelPath(channelType, channelID), nil, nil, &out)
	if err != nil {
		return Channel{}, err
	}
	return out.toChannel(), nil
}

// AddMembers adds the given users to a channel.
func (c *HTTPClient) AddMembers(ctx context.Context, channelType, channelID string, memberIDs []string) error {
	payload := struct {
		Add []string `json:"add"`
	}{Add: memberIDs}
	return c.do(ctx, http.MethodPost, c.channelPath(channelType, channelID)+"/members", nil, payload, nil)
}

// RemoveMembers removes the given users from a channel.
func (c *HTTPClient) RemoveMembers(ctx context.Context, channelType, channelID string, memberIDs []string) error {
	payload := struct {
		Remove []string `json:"remove"`
	}{Remove: memberIDs}
	return c.do(ctx, http.MethodPost, c.channelPath(channelType, channelID)+"/members", nil, payload, nil)
}

// SendMessage posts a message into a channel on behalf of a member.
func (c *HTTPClient) SendMessage(ctx context.Context, channelType, channelID, senderID, text string) error {
	payload := struct {
		SenderID string `json:"sender_id"`
		Text     string `json:"text"`
	}{SenderID: senderID, Text: text}
	return c.do(ctx, http.MethodPost, c.channelPath(channelType, channelID)+"/messages", nil, payload, nil)
}

// UpdateChannel applies a partial update to channel attributes.
func (c *HTTPClient) UpdateChannel(ctx context.Context, channelType, channelID string, attributes map[string]any) error {
	return c.do(ctx, http.MethodPatch, c.channelPath(channelType, channelID), nil, attributes, nil)
}

// DeleteChannel removes a channel.
func (c *HTTPClient) DeleteChannel(ctx context.Context, channelType, channelID string) error {
	return c.do(ctx, http.MethodDelete, c.channelPath(channelType, channelID), nil, nil, nil)
}

// ListUsers pages through provider users.
func (c *HTTPClient) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	query := url.Values{}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var out struct {
		Users []apiUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", query, nil, &out); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(out.Users))
	for _, user := range out.Users {
		users = append(users, User{ID: user.ID, Name: user.Name, Teams: user.Teams})
	}
	return users, nil
}

// ListChannels pages through provider channels.
func (c *HTTPClient) ListChannels(ctx context.Context, filter ChannelFilter) ([]Channel, error) {
	query := url.Values{}
	if filter.MemberID != "" {
		query.Set("member", filter.MemberID)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		query.Set("offset", strconv.Itoa(filter.Offset))
	}

	var out struct {
		Channels []apiChannel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/channels", query, nil, &out); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(out.Channels))
	for _, channel := range out.Channels {
		channels = append(channels, channel.toChannel())
	}
	return channels, nil
}

func (c *HTTPClient) channelPath(channelType, channelID string) string {
	return "/channels/" + url.PathEscape(channelType) + "/" + url.PathEscape(channelID)
}

// acquire takes a semaphore slot or gives up when the context ends.
func (c *HTTPClient) acquire(ctx context.Context) error {
	select {
	case c.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *HTTPClient) release() {
	<-c.semaphore
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("provider: encoding request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("provider: building request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.serverToken)
	request.Header.Set("X-Api-Key", c.apiKey)
	request.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return fmt.Errorf("provider: decoding response: %w", err)
		}
		return nil
	}

	return classifyStatus(response)
}

// classifyStatus folds an error response into the package's sentinel
// taxonomy so callers branch on errors.Is instead of status codes.
func classifyStatus(response *http.Response) error {
	var parsed apiError
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 8192))
	_ = json.Unmarshal(raw, &parsed)
	message := parsed.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	if message == "" {
		message = response.Status
	}

	lowered := strings.ToLower(message)
	switch {
	case response.StatusCode == http.StatusConflict,
		strings.Contains(lowered, "already exists"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, message)
	case response.StatusCode == http.StatusUnauthorized,
		response.StatusCode == http.StatusForbidden,
		strings.Contains(lowered, "authentication failed"):
		return fmt.Errorf("%w: %s", ErrAuthFailed, message)
	case response.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	case response.StatusCode == http.StatusRequestTimeout,
		response.StatusCode == http.StatusTooManyRequests,
		response.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrTransient, response.StatusCode, message)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrInvalidRequest, response.StatusCode, message)
	}
}
