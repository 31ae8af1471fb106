package sentiment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultEndpoint = "https://api.alternative.me/fng/"
	DefaultLimit    = 2000
)

// FearGreedClient 拉取 alternative.me 的历史 Fear & Greed 指数。
type FearGreedClient struct {
	endpoint string
	limit    int
	client   *http.Client
}

func NewFearGreedClient(endpoint string, limit int, timeout time.Duration) *FearGreedClient {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FearGreedClient{
		endpoint: endpoint,
		limit:    limit,
		client:   &http.Client{Timeout: timeout},
	}
}

// RawPoint 保留接口原始条目，供缓存落库。
type RawPoint struct {
	Point
	Raw []byte
}

// FetchHistory 拉取最多 limit 条历史记录（时间升序）。
func (c *FearGreedClient) FetchHistory(ctx context.Context) ([]RawPoint, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("fear & greed endpoint: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(c.limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fear & greed status=%d", resp.StatusCode)
	}
	return ParseFearGreed(body)
}

// ParseFearGreed 解析 alternative.me 响应；metadata.error 非空时返回错误。
func ParseFearGreed(body []byte) ([]RawPoint, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("fear & greed: invalid json")
	}
	doc := gjson.ParseBytes(body)
	if e := doc.Get("metadata.error"); e.Exists() && e.Type != gjson.Null && strings.TrimSpace(e.String()) != "" {
		return nil, fmt.Errorf("fear & greed api error: %s", e.String())
	}
	data := doc.Get("data")
	if !data.IsArray() {
		return nil, fmt.Errorf("fear & greed: data is not an array")
	}
	var out []RawPoint
	var parseErr error
	data.ForEach(func(_, item gjson.Result) bool {
		tsRaw := strings.TrimSpace(item.Get("timestamp").String())
		ts, err := strconv.ParseInt(tsRaw, 10, 64)
		if err != nil {
			parseErr = fmt.Errorf("fear & greed: bad timestamp %q", tsRaw)
			return false
		}
		val, err := strconv.Atoi(strings.TrimSpace(item.Get("value").String()))
		if err != nil {
			parseErr = fmt.Errorf("fear & greed: bad value at %s", tsRaw)
			return false
		}
		out = append(out, RawPoint{
			Point: Point{
				Time:           time.Unix(ts, 0).UTC(),
				Value:          val,
				Classification: item.Get("value_classification").String(),
			},
			Raw: []byte(item.Raw),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	// 接口按时间倒序返回
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
