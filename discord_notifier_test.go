package main

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

type fakeDiscordSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeDiscordSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func newTestNotifier(sender discordSender) *discordNotifier {
	return &discordNotifier{dg: sender, channelID: "42", prefix: "[rig] "}
}

func TestNewDiscordNotifierDisabled(t *testing.T) {
	n, err := newDiscordNotifier("", "123", "rig")
	if err != nil || n != nil {
		t.Fatalf("expected nil notifier without a token, got %v %v", n, err)
	}
}

func TestDiscordNoticeSequence(t *testing.T) {
	n := newTestNotifier(&fakeDiscordSender{})
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := n.noticeFor(EngineEvent{Type: EventDisconnected, Time: t0, Addr: "pool:3333", Reason: "refused"}); got != "" {
		t.Fatalf("disconnect before any connect should be silent, got %q", got)
	}
	if got := n.noticeFor(EngineEvent{Type: EventConnected, Time: t0, Addr: "pool:3333"}); got != "" {
		t.Fatalf("first connect should be silent, got %q", got)
	}
	got := n.noticeFor(EngineEvent{Type: EventDisconnected, Time: t0, Addr: "pool:3333", Reason: "EOF"})
	if got != "Pool connection to pool:3333 lost: EOF" {
		t.Fatalf("lost notice = %q", got)
	}
	if got := n.noticeFor(EngineEvent{Type: EventDisconnected, Time: t0.Add(time.Second), Addr: "pool:3333", Reason: "refused"}); got != "" {
		t.Fatalf("repeated disconnect should be silent, got %q", got)
	}
	got = n.noticeFor(EngineEvent{Type: EventConnected, Time: t0.Add(90 * time.Second), Addr: "pool:3333"})
	if !strings.HasPrefix(got, "Pool connection restored to pool:3333 after ") || !strings.Contains(got, "1 minute") {
		t.Fatalf("restored notice = %q", got)
	}
	got = n.noticeFor(EngineEvent{Type: EventShareRejected, JobID: "j7", Code: 23, Reason: "Low difficulty share"})
	if got != "Share rejected on job j7 (code 23): Low difficulty share" {
		t.Fatalf("reject notice = %q", got)
	}
	if got := n.noticeFor(EngineEvent{Type: EventShareAccepted}); got != "" {
		t.Fatalf("accepted share should be silent, got %q", got)
	}
}

func TestDiscordEnqueueBatchesAndDrops(t *testing.T) {
	n := newTestNotifier(&fakeDiscordSender{})
	n.enqueueNotice("one")
	n.enqueueNotice("two")
	if len(n.queue) != 1 || n.queue[0] != "[rig] one\n[rig] two" {
		t.Fatalf("short lines not batched: %q", n.queue)
	}

	long := strings.Repeat("x", 700)
	for i := 0; i < 4; i++ {
		n.enqueueNotice(long)
	}
	if len(n.queue) != discordMaxQueuedMessages {
		t.Fatalf("queue length %d, want %d", len(n.queue), discordMaxQueuedMessages)
	}
	// The first long line still fits after the batched short ones.
	if n.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", n.dropped)
	}
	for _, msg := range n.queue {
		if len(msg) > discordMaxChars {
			t.Fatalf("message of %d chars exceeds limit", len(msg))
		}
	}
}

func TestDiscordSendNext(t *testing.T) {
	sender := &fakeDiscordSender{}
	n := newTestNotifier(sender)
	n.queue = []string{"a", "b", "c"}
	n.dropped = 4

	n.sendNext()
	if len(sender.sent) != 1 || sender.sent[0] != "a" {
		t.Fatalf("sent = %q", sender.sent)
	}
	if len(n.queue) != 3 || !strings.Contains(n.queue[2], "4 notices dropped") {
		t.Fatalf("queue after send = %q", n.queue)
	}
	if n.dropped != 0 {
		t.Fatalf("dropped counter not reset")
	}

	sender.err = errors.New("temporary network error")
	n.sendNext()
	if len(n.queue) != 3 || n.queue[0] != "b" {
		t.Fatalf("transient failure should keep the message, queue = %q", n.queue)
	}

	sender.err = discordgo.ErrUnauthorized
	n.sendNext()
	if len(n.queue) != 2 || n.queue[0] != "c" {
		t.Fatalf("permanent failure should drop the message, queue = %q", n.queue)
	}

	var empty discordNotifier
	empty.dg = sender
	empty.sendNext()
}
