package smax

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// messagePattern is "*" if empty, matching the wildcard convention
// AddMessageProcessor's host/program arguments use.
func messagePattern(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

// matchMessagePattern reports whether id ("host:program:level") matches
// pattern ("host:program:level" with "*" wildcard segments).
func matchMessagePattern(pattern, id string) bool {
	pp := strings.Split(pattern, Separator)
	ip := strings.Split(id, Separator)
	if len(pp) != len(ip) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != ip[i] {
			return false
		}
	}
	return true
}

// MessageLevel classifies an out-of-band status message (spec.md §10).
type MessageLevel int

const (
	MessageStatus MessageLevel = iota
	MessageInfo
	MessageDetail
	MessageDebug
	MessageWarning
	MessageError
	MessageProgress
)

func (l MessageLevel) String() string {
	switch l {
	case MessageStatus:
		return "status"
	case MessageInfo:
		return "info"
	case MessageDetail:
		return "detail"
	case MessageDebug:
		return "debug"
	case MessageWarning:
		return "warning"
	case MessageError:
		return "error"
	case MessageProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// messagesPrefix is the pub/sub channel family progress and status messages
// publish to: "messages:<host>:<program>:<level>" (spec.md §10).
const messagesPrefix = "messages"

// Message is one delivered status/progress notification.
type Message struct {
	Host    string
	Program string
	Level   MessageLevel
	Text    string
}

// MessageBus publishes and receives the informal status/progress channel
// spec.md §10 layers on top of the main variable store. Receiving is built
// the same way as the variable-update Subscriber: a Subscriber instance
// scoped to the "messages:" channel family handles the ref-counted
// PSUBSCRIBE/PUNSUBSCRIBE and dispatch machinery, with AddMessageProcessor
// registering a filtered notification handler on top of it.
type MessageBus struct {
	rdb   redis.UniversalClient
	ident identity
	sub   *Subscriber
}

// NewMessageBus builds a MessageBus that publishes as ident and receives
// over rdb.
func NewMessageBus(ctx context.Context, rdb redis.UniversalClient, ident identity) *MessageBus {
	return &MessageBus{rdb: rdb, ident: ident, sub: NewSubscriber(ctx, rdb, messagesPrefix+Separator)}
}

func (b *MessageBus) channel(level MessageLevel) string {
	return fmt.Sprintf("%s:%s:%s:%s", messagesPrefix, b.ident.hostname, b.ident.program, level)
}

func (b *MessageBus) send(ctx context.Context, level MessageLevel, text string) error {
	if err := b.rdb.Publish(ctx, b.channel(level), text).Err(); err != nil {
		return newError("MessageBus.send", KindNoService, err)
	}
	return nil
}

func (b *MessageBus) SendStatus(ctx context.Context, text string) error   { return b.send(ctx, MessageStatus, text) }
func (b *MessageBus) SendInfo(ctx context.Context, text string) error     { return b.send(ctx, MessageInfo, text) }
func (b *MessageBus) SendDetail(ctx context.Context, text string) error   { return b.send(ctx, MessageDetail, text) }
func (b *MessageBus) SendDebug(ctx context.Context, text string) error    { return b.send(ctx, MessageDebug, text) }
func (b *MessageBus) SendWarning(ctx context.Context, text string) error  { return b.send(ctx, MessageWarning, text) }
func (b *MessageBus) SendError(ctx context.Context, text string) error    { return b.send(ctx, MessageError, text) }
// SendProgress publishes a completion fraction in [0, 1].
func (b *MessageBus) SendProgress(ctx context.Context, fraction float64) error {
	return b.send(ctx, MessageProgress, strconv.FormatFloat(fraction, 'g', -1, 64))
}

// MessageProcessor receives every Message a subscription delivers.
type MessageProcessor func(Message)

// MessageProcessorHandle identifies a registration made by
// AddMessageProcessor, to be passed to RemoveMessageProcessor.
type MessageProcessorHandle struct {
	pattern   string
	handlerID int
}

// AddMessageProcessor starts receiving messages at level from host/program
// (either may be "" to act as a pattern wildcard) and invokes fn for each,
// built the same way as the update Subscriber: the pattern's reference
// count drives a real driver PSUBSCRIBE/PUNSUBSCRIBE on the 0→1/1→0
// transition (spec.md §4.4, reused here for the message channel family).
func (b *MessageBus) AddMessageProcessor(host, program string, level MessageLevel, fn MessageProcessor) *MessageProcessorHandle {
	host, program = messagePattern(host), messagePattern(program)
	pattern := fmt.Sprintf("%s%s%s%s%s", host, Separator, program, Separator, level)

	b.sub.Subscribe(pattern)
	handlerID := b.sub.AddNotificationHandler(func(id, payload string) {
		if !matchMessagePattern(pattern, id) {
			return
		}
		parts := strings.SplitN(id, Separator, 3)
		var h, p string
		if len(parts) == 3 {
			h, p = parts[0], parts[1]
		}
		fn(Message{Host: h, Program: p, Level: level, Text: payload})
	})

	return &MessageProcessorHandle{pattern: pattern, handlerID: handlerID}
}

// RemoveMessageProcessor unregisters a processor added with
// AddMessageProcessor, issuing the driver PUNSUBSCRIBE once no other
// processor still cares about its pattern.
func (b *MessageBus) RemoveMessageProcessor(h *MessageProcessorHandle) {
	if h == nil {
		return
	}
	b.sub.RemoveNotificationHandler(h.handlerID)
	b.sub.Unsubscribe(h.pattern)
}

// Close tears down the MessageBus's subscriber connection.
func (b *MessageBus) Close() error {
	return b.sub.Close()
}
