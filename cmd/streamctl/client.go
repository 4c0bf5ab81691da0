package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resume-optimizer/internal/shared/model"
	"resume-optimizer/internal/transport"
)

// apiClient API Server 的最小客户端
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{},
	}
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON 发送请求并把 JSON 响应解码到 out
func (c *apiClient) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func responseError(resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data)))
}

// ============================================================================
// 事件流跟随
// ============================================================================

// errStreamEnded 连接在收到 done 之前结束
var errStreamEnded = errors.New("stream ended before done")

// tail 跟随作业事件流直到 done
//
// 连接中断时带着最后收到的 event_id 重连，最多连续重试 retries 次。
func (c *apiClient) tail(ctx context.Context, jobID string, after int64, retries int, backoff time.Duration, fn func(*model.Envelope) error) error {
	failures := 0
	for {
		last, err := c.tailOnce(ctx, jobID, after, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last > after {
			after = last
			failures = 0
		} else {
			failures++
		}
		if failures > retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// tailOnce 一次 SSE 连接，收到 done 返回 nil，返回最后处理的 event_id
func (c *apiClient) tailOnce(ctx context.Context, jobID string, after int64, fn func(*model.Envelope) error) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/stream", nil)
	if err != nil {
		return after, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if after > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(after, 10))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return after, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return after, responseError(resp)
	}

	rd := transport.NewReader(resp.Body)
	for {
		f, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return after, errStreamEnded
		}
		if err != nil {
			return after, err
		}
		if f.KeepAlive() {
			continue
		}
		env, err := f.Envelope()
		if err != nil {
			return after, err
		}
		if env.EventID <= after {
			continue
		}
		if err := fn(env); err != nil {
			return after, err
		}
		after = env.EventID
		if env.Type() == model.EventTypeDone {
			return after, nil
		}
	}
}
