package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hako/durafmt"
)

const (
	discordMaxQueuedMessages = 3
	discordMaxChars          = 1000
	discordSendInterval      = 10 * time.Second
)

// discordSender is the one discordgo call the notifier needs.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// discordNotifier posts connection and rejection notices to one channel. Lines
// are batched into at most a few queued messages and sent at a fixed pace;
// overflow is counted and reported once room frees up.
type discordNotifier struct {
	dg        discordSender
	channelID string
	prefix    string

	mu           sync.Mutex
	queue        []string
	dropped      int
	wasConnected bool
	lostAt       time.Time
}

// newDiscordNotifier returns nil when Discord is not configured.
func newDiscordNotifier(token, channelID, rig string) (*discordNotifier, error) {
	token = strings.TrimSpace(token)
	channelID = strings.TrimSpace(channelID)
	if token == "" || channelID == "" {
		return nil, nil
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	prefix := "[" + minerSoftwareName + "] "
	if rig != "" {
		prefix = "[" + minerSoftwareName + "/" + rig + "] "
	}
	return &discordNotifier{dg: dg, channelID: channelID, prefix: prefix}, nil
}

func (n *discordNotifier) enqueueNotice(line string) {
	if n == nil {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	line = n.prefix + line
	if len(line) > discordMaxChars {
		line = line[:discordMaxChars]
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) > 0 {
		last := n.queue[len(n.queue)-1]
		if len(last)+1+len(line) <= discordMaxChars {
			n.queue[len(n.queue)-1] = last + "\n" + line
			return
		}
	}
	if len(n.queue) >= discordMaxQueuedMessages {
		n.dropped++
		return
	}
	n.queue = append(n.queue, line)
}

// noticeFor renders the Discord line for an engine event, if any.
func (n *discordNotifier) noticeFor(ev EngineEvent) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	switch ev.Type {
	case EventConnected:
		was := n.wasConnected
		n.wasConnected = true
		if !was || n.lostAt.IsZero() {
			return ""
		}
		down := durafmt.Parse(ev.Time.Sub(n.lostAt)).LimitFirstN(2).String()
		n.lostAt = time.Time{}
		return fmt.Sprintf("Pool connection restored to %s after %s.", ev.Addr, down)
	case EventDisconnected:
		if !n.wasConnected || !n.lostAt.IsZero() {
			return ""
		}
		n.lostAt = ev.Time
		return fmt.Sprintf("Pool connection to %s lost: %s", ev.Addr, ev.Reason)
	case EventShareRejected:
		return fmt.Sprintf("Share rejected on job %s (code %d): %s", ev.JobID, ev.Code, ev.Reason)
	}
	return ""
}

// Consume turns engine events into notices and sends them until ctx ends.
func (n *discordNotifier) Consume(ctx context.Context, events <-chan EngineEvent) {
	if n == nil {
		return
	}
	ticker := time.NewTicker(discordSendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if line := n.noticeFor(ev); line != "" {
				n.enqueueNotice(line)
			}
		case <-ticker.C:
			n.sendNext()
		}
	}
}

func (n *discordNotifier) sendNext() {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return
	}
	msg := n.queue[0]
	n.mu.Unlock()

	_, err := n.dg.ChannelMessageSend(n.channelID, msg)
	if err != nil {
		logger.Warn("discord notify send failed", "error", err)
		if !isDiscordPermanentError(err) {
			return
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) > 0 {
		n.queue = n.queue[1:]
	}
	if n.dropped > 0 && len(n.queue) < discordMaxQueuedMessages {
		n.queue = append(n.queue, fmt.Sprintf("%s%d notices dropped while the queue was full.", n.prefix, n.dropped))
		n.dropped = 0
	}
}

func isDiscordPermanentError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, discordgo.ErrUnauthorized) {
		return true
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}
