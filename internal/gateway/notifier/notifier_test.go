package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcbacktest/internal/events"
)

func TestTelegramRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "chat", payload["chat_id"])
		assert.Equal(t, "hello", payload["text"])
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = time.Millisecond
	require.NoError(t, tg.SendText(context.Background(), "hello"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramReportsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat")
	tg.BaseURL = srv.URL
	tg.Backoff = time.Millisecond
	err := tg.SendText(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	require.Error(t, NewTelegram("", "chat").SendText(context.Background(), "x"))
}

func TestEventMessageTrade(t *testing.T) {
	msg, ok := EventMessage(events.Event{
		Kind:           events.KindTradeExecuted,
		Time:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		RunID:          "r1",
		Action:         "SELL",
		Strategy:       "STOP_LOSS",
		Price:          96500,
		Quantity:       0.05,
		Notional:       4825,
		PortfolioValue: 9825,
		Reason:         "Stop-loss: price 96500.00 < stop 97000.00",
	})
	require.True(t, ok)
	text := msg.RenderMarkdown()
	assert.True(t, strings.HasPrefix(text, "🔴 STOP_LOSS SELL"))
	assert.Contains(t, text, "- 价格 96500.00")
	assert.Contains(t, text, "- 数量 0.05000000")
	assert.Contains(t, text, "run r1")
	assert.True(t, strings.HasSuffix(text, "日期：2024-03-01"))
}

func TestEventMessageSummary(t *testing.T) {
	msg, ok := EventMessage(events.Event{
		Kind:   events.KindRunCompleted,
		Reason: "completed",
		Summary: map[string]float64{
			"total_return": 0.125,
			"max_drawdown": -0.05,
			"num_trades":   4,
		},
	})
	require.True(t, ok)
	text := msg.RenderMarkdown()
	assert.Contains(t, text, "回测结束 (completed)")
	assert.Contains(t, text, "- 总收益 12.50%")
	assert.Contains(t, text, "- 最大回撤 -5.00%")
	assert.NotContains(t, text, "胜率")

	_, ok = EventMessage(events.Event{Kind: "unknown"})
	assert.False(t, ok)
}

func TestRenderMarkdownEscapesAndTruncates(t *testing.T) {
	msg := StructuredMessage{
		Title:    "t",
		Sections: []MessageSection{{Title: "empty", Lines: []string{" ", ""}}, {Lines: []string{"a```b"}}},
	}
	text := msg.RenderMarkdown()
	assert.NotContains(t, text, "empty")
	assert.Contains(t, text, "a'''b")

	long := StructuredMessage{Title: strings.Repeat("x", maxStructuredMessageLen+100)}
	assert.Len(t, long.RenderMarkdown(), maxStructuredMessageLen+3)
}

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
	block chan struct{}
}

func (c *captureNotifier) SendText(ctx context.Context, text string) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func TestTextSinkFiltersAndDrains(t *testing.T) {
	n := &captureNotifier{}
	sink := NewTextSink(n, SinkOptions{Kinds: []events.Kind{events.KindRunCompleted, events.KindCircuitBreaker}})

	ctx := context.Background()
	sink.Emit(ctx, events.Event{Kind: events.KindTradeExecuted, Action: "BUY"})
	sink.Emit(ctx, events.Event{Kind: events.KindCircuitBreaker, Reason: "Circuit breaker: drawdown 25.10%"})
	sink.Emit(ctx, events.Event{Kind: events.KindRunCompleted, Reason: "circuit_breaker"})
	require.NoError(t, sink.Close(ctx))
	// 关闭后的事件被忽略。
	sink.Emit(ctx, events.Event{Kind: events.KindRunCompleted})

	require.Len(t, n.texts, 2)
	assert.Contains(t, n.texts[0], "熔断暂停")
	assert.Contains(t, n.texts[1], "回测结束")
}

func TestTextSinkDropsWhenFull(t *testing.T) {
	n := &captureNotifier{block: make(chan struct{})}
	sink := NewTextSink(n, SinkOptions{QueueSize: 1})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		sink.Emit(ctx, events.Event{Kind: events.KindRunCompleted})
	}
	// 最多一个在发送中、一个在队列中。
	assert.GreaterOrEqual(t, sink.Dropped(), int64(3))
	close(n.block)
	require.NoError(t, sink.Close(ctx))
}
