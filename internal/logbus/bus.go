package logbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Message struct {
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Entry 是回调订阅者收到的日志事件。
type Entry struct {
	Level  string
	Msg    string
	Time   time.Time
	Fields map[string]any
}

type LogFunc func(Entry) error

type Bus struct {
	mu     sync.RWMutex
	buf    []Message
	cap    int
	subs   map[chan Message]struct{}
	funcs  map[uint64]LogFunc
	nextFn uint64
	closed bool

	sink zerolog.Logger
}

func New(capacity int, sink zerolog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		cap:   capacity,
		buf:   make([]Message, 0, capacity),
		subs:  make(map[chan Message]struct{}),
		funcs: make(map[uint64]LogFunc),
		sink:  sink,
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.funcs = nil
	b.buf = nil
}

func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.buf))
	copy(out, b.buf)
	return out
}

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	_, ch, cancel := b.subscribe(buffer, false)
	return ch, cancel
}

// SubscribeWithSnapshot copies the history and registers the channel under one
// lock, so each message is either in the snapshot or delivered on the channel.
func (b *Bus) SubscribeWithSnapshot(buffer int) ([]Message, <-chan Message, func()) {
	return b.subscribe(buffer, true)
}

func (b *Bus) subscribe(buffer int, withSnapshot bool) ([]Message, <-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return nil, ch, func() {}
	}
	var snap []Message
	if withSnapshot {
		snap = make([]Message, len(b.buf))
		copy(snap, b.buf)
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs != nil {
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		}
		b.mu.Unlock()
	}
	return snap, ch, cancel
}

// SubscribeFunc 注册日志回调；回调在发布日志的 goroutine 上执行。
func (b *Bus) SubscribeFunc(fn LogFunc) func() {
	if fn == nil {
		return func() {}
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextFn++
	id := b.nextFn
	b.funcs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if b.funcs != nil {
			delete(b.funcs, id)
		}
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(typ string, data any) {
	msg := Message{
		Type: typ,
		Time: time.Now().UnixMilli(),
		Data: data,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if len(b.buf) < b.cap {
		b.buf = append(b.buf, msg)
	} else if b.cap > 0 {
		copy(b.buf, b.buf[1:])
		b.buf[b.cap-1] = msg
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	b.mu.Unlock()
}

// Log writes through to the durable sink first, then fans out to channel and callback subscribers.
func (b *Bus) Log(level, message string, fields map[string]any) {
	now := time.Now()
	b.writeSink(level, message, fields)
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})

	b.mu.RLock()
	fns := make([]LogFunc, 0, len(b.funcs))
	for _, fn := range b.funcs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	entry := Entry{Level: level, Msg: message, Time: now, Fields: fields}
	for _, fn := range fns {
		if err := deliver(fn, entry); err != nil {
			b.sink.Warn().Err(err).Str("msg", message).Msg("log subscriber failed")
		}
	}
}

func (b *Bus) writeSink(level, message string, fields map[string]any) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	ev := b.sink.WithLevel(lvl)
	if len(fields) > 0 {
		ev = ev.Fields(fields)
	}
	ev.Msg(message)
}

func deliver(fn LogFunc, entry Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r}
		}
	}()
	return fn(entry)
}
