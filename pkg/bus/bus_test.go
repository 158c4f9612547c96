package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func echo() HandlerFunc {
	return func(_ context.Context, msg Message) Reply {
		return Reply{OK: true, Status: msg.Action}
	}
}

func TestRequestReply(t *testing.T) {
	b := New()
	defer b.Close()
	if err := b.Register("tab:1", echo()); err != nil {
		t.Fatal(err)
	}

	r, err := b.Request(context.Background(), "tab:1", Message{Action: "getState"})
	if err != nil {
		t.Fatal(err)
	}
	if !r.OK || r.Status != "getState" {
		t.Fatalf("reply = %+v", r)
	}

	if _, err := b.Request(context.Background(), "tab:2", Message{Action: "getState"}); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("err = %v, want ErrUnknownEndpoint", err)
	}
	if err := b.Register("tab:1", echo()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestPerSenderOrder(t *testing.T) {
	b := New(WithInboxSize(32))
	defer b.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	b.Register("ui", HandlerFunc(func(_ context.Context, msg Message) Reply {
		mu.Lock()
		got = append(got, msg.Action)
		n := len(got)
		mu.Unlock()
		if n == 20 {
			close(done)
		}
		return Reply{OK: true}
	}))

	want := make([]string, 20)
	for i := range want {
		want[i] = string(rune('a' + i))
		if err := b.Send(context.Background(), "ui", Message{Action: want[i]}); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages not handled")
	}
	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestBroadcastPrefix(t *testing.T) {
	b := New()
	defer b.Close()

	seen := make(chan string, 3)
	for _, name := range []string{"tab:1", "tab:2", "background"} {
		b.Register(name, HandlerFunc(func(_ context.Context, msg Message) Reply {
			seen <- name
			return Reply{OK: true}
		}))
	}

	msg, err := NewMessage("updateState", map[string]bool{"enabled": false})
	if err != nil {
		t.Fatal(err)
	}
	if n := b.Broadcast(context.Background(), "tab:", msg); n != 2 {
		t.Fatalf("broadcast reached %d endpoints, want 2", n)
	}

	got := map[string]bool{}
	for range 2 {
		select {
		case name := <-seen:
			got[name] = true
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast not handled")
		}
	}
	if !got["tab:1"] || !got["tab:2"] {
		t.Fatalf("reached = %v", got)
	}
}

func TestHandlerPanicBecomesReply(t *testing.T) {
	b := New()
	defer b.Close()
	b.Register("tab:1", HandlerFunc(func(context.Context, Message) Reply {
		panic("boom")
	}))

	r, err := b.Request(context.Background(), "tab:1", Message{Action: "savePageHighlights"})
	if err != nil {
		t.Fatal(err)
	}
	if r.OK || r.Code != "internal" {
		t.Fatalf("reply = %+v", r)
	}
	// the endpoint keeps serving
	b.Register("tab:2", echo())
	if _, err := b.Request(context.Background(), "tab:1", Message{Action: "x"}); err != nil {
		t.Fatal(err)
	}
	if b.Stats().Panics < 1 {
		t.Fatalf("stats = %+v", b.Stats())
	}
}

func TestRequestDeadline(t *testing.T) {
	b := New()
	defer b.Close()

	release := make(chan struct{})
	b.Register("slow", HandlerFunc(func(ctx context.Context, _ Message) Reply {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Reply{OK: true}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Request(ctx, "slow", Message{Action: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestUnregister(t *testing.T) {
	b := New()
	defer b.Close()
	b.Register("tab:1", echo())

	if !b.Unregister("tab:1") {
		t.Fatal("Unregister returned false")
	}
	if b.Unregister("tab:1") {
		t.Fatal("second Unregister returned true")
	}
	if err := b.Send(context.Background(), "tab:1", Message{Action: "x"}); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("err = %v, want ErrUnknownEndpoint", err)
	}
	if len(b.Endpoints("")) != 0 {
		t.Fatalf("endpoints = %v", b.Endpoints(""))
	}
}

func TestClosedBus(t *testing.T) {
	b := New()
	b.Register("tab:1", echo())
	b.Close()
	b.Close()

	if err := b.Send(context.Background(), "tab:1", Message{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := b.Register("tab:2", echo()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSendDropsWhenInboxFull(t *testing.T) {
	b := New(WithInboxSize(1))
	defer b.Close()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	b.Register("background", HandlerFunc(func(ctx context.Context, _ Message) Reply {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return Reply{OK: true}
	}))

	// first message is being handled, second fills the inbox
	if err := b.Send(context.Background(), "background", Message{Action: "a"}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := b.Send(context.Background(), "background", Message{Action: "b"}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- b.Send(context.Background(), "background", Message{Action: "c"}) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrDropped) {
			t.Fatalf("err = %v, want ErrDropped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Send blocked on a full inbox")
	}
	if got := b.Stats().Dropped; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}

	// a Request waits for room instead
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.Request(ctx, "background", Message{Action: "d"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("request err = %v, want deadline exceeded", err)
	}
	close(release)
}
