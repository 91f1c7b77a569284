// Package wordpress はWordPress（JWT認証プラグイン）をIdPとして利用するクライアントを提供する。
// トークン発行エンドポイントでの認証と、/wp/v2/users/me によるプロフィール取得を行う。
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	tokenPath   = "/wp-json/jwt-auth/v1/token"
	profilePath = "/wp-json/wp/v2/users/me?context=edit"

	defaultMaxResponseSize = 1 << 20
)

// Config はWordPressクライアントの設定。
type Config struct {
	BaseURL string
	// TokenURL が空の場合はBaseURL + /wp-json/jwt-auth/v1/token を使う。
	TokenURL        string
	MaxResponseSize int64
}

// TokenResult はトークン発行レスポンスから取り出したユーザー情報。
// プラグインのバージョンによって含まれる項目が異なるため、UserIDは任意。
type TokenResult struct {
	Token       string
	Email       string
	DisplayName string
	UserID      *int64
}

// Profile は /wp/v2/users/me のレスポンスから取り出したユーザー情報。
type Profile struct {
	ID    *int64
	Email string
	Name  string
	Roles []string
}

// Error はWordPressがエラーステータスを返した場合のエラー。
// Messageはレスポンスのmessage（またはdetail）で、HTMLを含むことがある。
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	return fmt.Sprintf("wordpress returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client はWordPress REST APIのクライアント。
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.TokenURL == "" {
		config.TokenURL = config.BaseURL + tokenPath
	}
	if config.MaxResponseSize <= 0 {
		config.MaxResponseSize = defaultMaxResponseSize
	}
	return &Client{httpClient: httpClient, config: config}
}

// tokenResponse はjwt-authプラグインのトークンレスポンス。
// 旧形式（トップレベルにtoken等）と新形式（data配下）の両方を受ける。
type tokenResponse struct {
	Token           string `json:"token"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	Data            *struct {
		Token       string          `json:"token"`
		ID          json.RawMessage `json:"id"`
		Email       string          `json:"email"`
		DisplayName string          `json:"displayName"`
	} `json:"data"`
}

// profileResponse は /wp/v2/users/me のレスポンス。
type profileResponse struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Email string          `json:"email"`
	Roles []string        `json:"roles"`
}

// errorResponse はWordPress REST APIのエラーレスポンス。
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// Authenticate はユーザー名またはemailとパスワードでトークンを発行する。
// 認証情報が拒否された場合は*Errorを返す。
func (c *Client) Authenticate(ctx context.Context, identifier, password string) (*TokenResult, error) {
	payload, err := json.Marshal(map[string]string{
		"username": identifier,
		"password": password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, parseError(status, body)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	result := &TokenResult{
		Token:       strings.TrimSpace(resp.Token),
		Email:       strings.TrimSpace(resp.UserEmail),
		DisplayName: strings.TrimSpace(resp.UserDisplayName),
	}
	if resp.Data != nil {
		if result.Token == "" {
			result.Token = strings.TrimSpace(resp.Data.Token)
		}
		if result.Email == "" {
			result.Email = strings.TrimSpace(resp.Data.Email)
		}
		if result.DisplayName == "" {
			result.DisplayName = strings.TrimSpace(resp.Data.DisplayName)
		}
		result.UserID = parseID(resp.Data.ID)
	}

	return result, nil
}

// FetchProfile はトークンで認証済みユーザーのプロフィールを取得する。
func (c *Client) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+profilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	if status != http.StatusOK {
		return nil, parseError(status, body)
	}

	var resp profileResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}

	roles := make([]string, 0, len(resp.Roles))
	for _, r := range resp.Roles {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}

	return &Profile{
		ID:    parseID(resp.ID),
		Email: strings.TrimSpace(resp.Email),
		Name:  strings.TrimSpace(resp.Name),
		Roles: roles,
	}, nil
}

// do はリクエストを実行し、上限サイズまでのボディとステータスを返す。
func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// parseError はエラーレスポンスを*Errorに変換する。ボディがJSONでない場合はMessageを空にする。
func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status}
	var resp errorResponse
	if err := json.Unmarshal(body, &resp); err == nil {
		e.Code = resp.Code
		e.Message = resp.Message
		if e.Message == "" {
			e.Message = resp.Detail
		}
	}
	return e
}
