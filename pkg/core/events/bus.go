package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Topic 运行事件主题
const Topic = "agent-flow.run-events"

// Bus 基于watermill gochannel的进程内事件总线
// 每次发布等待全部订阅者确认后返回，订阅者按发布顺序收到事件
// 没有订阅者时事件被丢弃
type Bus struct {
	pubSub *gochannel.GoChannel
	buffer int64
	logger zerolog.Logger
}

// NewBus 创建事件总线
// buffer: 每个订阅者的输出缓冲，订阅方积压超过缓冲时发布方等待
func NewBus(buffer int64) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	logger := log.With().Str("component", "events").Logger()
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            buffer,
				BlockPublishUntilSubscriberAck: true,
			},
			NewWatermillLogger(logger),
		),
		buffer: buffer,
		logger: logger,
	}
}

// Emit 发布事件，失败只记录日志
func (b *Bus) Emit(ev *Event) {
	if ev == nil {
		return
	}
	if err := b.Publish(ev); err != nil {
		b.logger.Warn().Err(err).Str("run_id", ev.RunID).Str("type", string(ev.Type)).Msg("⚠️ 事件发布失败")
	}
}

// Publish 发布事件
func (b *Bus) Publish(ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("run_id", ev.RunID)
	msg.Metadata.Set("type", string(ev.Type))
	return b.pubSub.Publish(Topic, msg)
}

// Subscribe 订阅事件，runID为空时接收全部运行的事件
// ctx结束时返回的channel被关闭
func (b *Bus) Subscribe(ctx context.Context, runID string) (<-chan *Event, error) {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("订阅事件失败: %w", err)
	}

	// 确认在转发之前，订阅方处理事件时可以再次发布
	out := make(chan *Event, b.buffer)
	go func() {
		defer close(out)
		for msg := range messages {
			if runID != "" && msg.Metadata.Get("run_id") != runID {
				msg.Ack()
				continue
			}
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn().Err(err).Str("message_id", msg.UUID).Msg("⚠️ 事件反序列化失败")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- &ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close 关闭总线，所有订阅channel随之关闭
func (b *Bus) Close() error {
	return b.pubSub.Close()
}

var _ Emitter = (*Bus)(nil)
