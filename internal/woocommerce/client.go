// Package woocommerce はWooCommerce REST APIで顧客アカウントを作成するクライアントを提供する。
package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	customersPath = "/wp-json/wc/v3/customers"

	defaultMaxResponseSize = 1 << 20
)

// ErrNotConfigured はconsumer key/secretが設定されていない場合に返される。
var ErrNotConfigured = errors.New("woocommerce credentials are not configured")

// Config はWooCommerceクライアントの設定。
type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	MaxResponseSize int64
}

// CustomerInput は顧客作成の入力。Usernameが空の場合はemailのローカル部を使う。
type CustomerInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Customer は作成された顧客。
type Customer struct {
	ID       int64
	Email    string
	Username string
}

// Error はWooCommerceがエラーステータスを返した場合のエラー。
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("woocommerce returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// AlreadyExists はemailまたはユーザー名が登録済みであることを示すエラーかを返す。
func (e *Error) AlreadyExists() bool {
	return strings.Contains(e.Code, "email_exists") ||
		strings.Contains(e.Code, "email-exists") ||
		strings.Contains(e.Code, "username_exists") ||
		strings.Contains(e.Code, "username-exists")
}

// Client はWooCommerce REST APIのクライアント。
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = defaultMaxResponseSize
	}
	return &Client{httpClient: httpClient, config: config}
}

// Configured はconsumer key/secretが揃っているかを返す。
func (c *Client) Configured() bool {
	return c.config.BaseURL != "" && c.config.ConsumerKey != "" && c.config.ConsumerSecret != ""
}

type customerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type customerResponse struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateCustomer は顧客を作成する。200/201以外のステータスは*Errorとして返す。
func (c *Client) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	username := in.Username
	if username == "" {
		username, _, _ = strings.Cut(in.Email, "@")
	}
	payload, err := json.Marshal(customerRequest{
		Email:     in.Email,
		Username:  username,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode customer request: %w", err)
	}

	q := url.Values{}
	q.Set("consumer_key", c.config.ConsumerKey)
	q.Set("consumer_secret", c.config.ConsumerSecret)
	endpoint := c.config.BaseURL + customersPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create customer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// URLにconsumer_secretが含まれるため、*url.Errorのままログに出さない
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("customer request failed: %w", urlErr.Err)
		}
		return nil, fmt.Errorf("customer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read customer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		e := &Error{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(body, &er) == nil {
			e.Code = er.Code
			e.Message = er.Message
		}
		return nil, e
	}

	var cr customerResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, fmt.Errorf("failed to parse customer response: %w", err)
	}
	return &Customer{ID: cr.ID, Email: cr.Email, Username: cr.Username}, nil
}
