// Package postgrest 是 Supabase/PostgREST REST 接口的传输层
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ShopAegis/internal/core/port"
	"ShopAegis/internal/storeclient"
)

var _ port.Transport = (*Client)(nil)

// Config 是 REST 传输层配置
type Config struct {
	URL     string // 项目地址，例如 https://xyz.supabase.co
	AnonKey string
	Schema  string // 为空时使用服务端默认 schema
	Timeout time.Duration
}

// Client 把 port.Request 翻译为 PostgREST HTTP 请求
type Client struct {
	baseURL string
	anonKey string
	schema  string
	http    *http.Client
}

// New 创建 REST 传输层。URL 末尾的 / 会被去掉。
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("PostgREST 地址不能为空")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		anonKey: cfg.AnonKey,
		schema:  cfg.Schema,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// Type 返回传输层类型
func (c *Client) Type() string { return "postgrest" }

// HealthCheck 请求 OpenAPI 根路径，任何非 5xx 响应都视为存储可达
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	c.setAuth(req, "")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("PostgREST 不可达: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("PostgREST 健康检查失败: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Execute 实现 port.Transport.Execute
func (c *Client) Execute(ctx context.Context, r *port.Request) (json.RawMessage, error) {
	method, body, err := methodAndBody(r)
	if err != nil {
		return nil, err
	}
	query, err := EncodeQuery(r)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + "/" + r.Table
	if query != "" {
		target += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("构造 PostgREST 请求失败: %w", err)
	}
	c.setAuth(req, storeclient.AccessToken(ctx))
	if c.schema != "" {
		if method == http.MethodGet || method == http.MethodHead {
			req.Header.Set("Accept-Profile", c.schema)
		} else {
			req.Header.Set("Content-Profile", c.schema)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if r.Returning {
			req.Header.Set("Prefer", "return=representation")
		} else {
			req.Header.Set("Prefer", "return=minimal")
		}
	}

	slog.Debug("[PostgREST] 发送请求", "method", method, "table", r.Table, "query", query)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PostgREST 请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 PostgREST 响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if r.Action == port.ActionSelect {
			return json.RawMessage("[]"), nil
		}
		return nil, nil
	}
	return raw, nil
}

// setAuth 设置 apikey 与 Authorization。没有调用者令牌时以匿名密钥作为 Bearer。
func (c *Client) setAuth(req *http.Request, token string) {
	if c.anonKey != "" {
		req.Header.Set("apikey", c.anonKey)
	}
	if token == "" {
		token = c.anonKey
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func methodAndBody(r *port.Request) (string, io.Reader, error) {
	switch r.Action {
	case port.ActionSelect:
		return http.MethodGet, nil, nil
	case port.ActionDelete:
		return http.MethodDelete, nil, nil
	case port.ActionInsert:
		var payload any = r.Body
		if len(r.Body) == 1 {
			payload = r.Body[0]
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", nil, fmt.Errorf("编码 insert 数据失败: %w", err)
		}
		return http.MethodPost, bytes.NewReader(raw), nil
	case port.ActionUpdate:
		if len(r.Body) != 1 {
			return "", nil, fmt.Errorf("update 请求需要且只需要一组更新值: %w", port.ErrUnsupportedAction)
		}
		raw, err := json.Marshal(r.Body[0])
		if err != nil {
			return "", nil, fmt.Errorf("编码 update 数据失败: %w", err)
		}
		return http.MethodPatch, bytes.NewReader(raw), nil
	}
	return "", nil, fmt.Errorf("%w: '%s'", port.ErrUnsupportedAction, r.Action)
}

// decodeError 把错误响应体解码为 StoreError；非 JSON 响应体原样作为消息
func decodeError(status int, raw []byte) error {
	se := &port.StoreError{Status: status}
	if err := json.Unmarshal(raw, se); err != nil || se.Message == "" {
		se.Message = strings.TrimSpace(string(raw))
		if se.Message == "" {
			se.Message = http.StatusText(status)
		}
	}
	return se
}
