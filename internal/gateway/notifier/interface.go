package notifier

import "context"

// TextNotifier 是最小的文本推送接口，回测核心只依赖它而不依赖具体渠道。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}
