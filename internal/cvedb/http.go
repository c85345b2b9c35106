package cvedb

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const (
	userAgent = "vulnscan/1.0"
	// maxResponseSize 单个响应体的读取上限
	maxResponseSize = 16 << 20

	nvdHTTPTimeout = 20 * time.Second
	apiHTTPTimeout = 15 * time.Second
)

// newHTTPClient 数据源共用的HTTP客户端配置
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}
}

// doRequest 发送请求并读取响应体
func doRequest(client *http.Client, req *http.Request) (int, []byte, error) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, xerrors.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, xerrors.Errorf("读取响应失败: %w", err)
	}
	return resp.StatusCode, body, nil
}

// statusError 非预期的HTTP状态码
func statusError(status int, body []byte) error {
	if len(body) > 200 {
		body = body[:200]
	}
	return xerrors.Errorf("API返回错误: %d %s, 响应: %s", status, http.StatusText(status), string(body))
}
