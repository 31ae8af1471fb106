package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"btcbacktest/internal/events"
	"btcbacktest/internal/logger"
)

var log = logger.Component("notifier")

// SinkOptions 控制推送哪些事件。
type SinkOptions struct {
	Kinds       []events.Kind
	QueueSize   int
	SendTimeout time.Duration
}

// TextSink 把事件异步转发给 TextNotifier。队列满时丢弃，绝不阻塞回测循环。
type TextSink struct {
	notifier TextNotifier
	kinds    map[events.Kind]bool
	timeout  time.Duration

	queue   chan events.Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ events.Sink = (*TextSink)(nil)

func NewTextSink(n TextNotifier, opts SinkOptions) *TextSink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 20 * time.Second
	}
	s := &TextSink{
		notifier: n,
		timeout:  opts.SendTimeout,
		queue:    make(chan events.Event, opts.QueueSize),
		done:     make(chan struct{}),
	}
	if len(opts.Kinds) > 0 {
		s.kinds = make(map[events.Kind]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			s.kinds[k] = true
		}
	}
	go s.loop()
	return s
}

func (s *TextSink) Emit(_ context.Context, evt events.Event) {
	if s.kinds != nil && !s.kinds[evt.Kind] {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- evt:
	default:
		s.dropped.Add(1)
		log.Warnf("notify queue full, dropping %s event", evt.Kind)
	}
}

func (s *TextSink) loop() {
	defer close(s.done)
	for evt := range s.queue {
		msg, ok := EventMessage(evt)
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := s.notifier.SendText(ctx, msg.RenderMarkdown()); err != nil {
			log.Warnf("notify %s failed: %v", evt.Kind, err)
		}
		cancel()
	}
}

// Dropped 返回因队列满而丢弃的事件数。
func (s *TextSink) Dropped() int64 { return s.dropped.Load() }

// Close 停止接收事件并等待队列发送完毕，或直到 ctx 结束。
func (s *TextSink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
