// Package notify delivers due-review reminders. Discord is the only
// remote channel; stdout is the fallback when no token is configured.
package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/recite/pkg/logger"
)

// Notifier delivers one reminder message.
type Notifier interface {
	Notify(ctx context.Context, msg string) error
	Close() error
}

// StdoutNotifier prints reminders to standard output.
type StdoutNotifier struct{}

func (StdoutNotifier) Notify(ctx context.Context, msg string) error {
	fmt.Println(msg)
	return nil
}

func (StdoutNotifier) Close() error { return nil }

// DiscordNotifier posts reminders to a fixed Discord channel.
type DiscordNotifier struct {
	session *discordgo.Session
	channel string
}

// NewDiscordNotifier creates a notifier for the given bot token and
// channel ID. Messages go over the REST API; no gateway connection is
// opened.
func NewDiscordNotifier(token, channelID string) (*DiscordNotifier, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("notify: discord token and channel are required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{session: session, channel: channelID}, nil
}

func (n *DiscordNotifier) Notify(ctx context.Context, msg string) error {
	_, err := n.session.ChannelMessageSend(n.channel, msg, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord reminder: %w", err)
	}
	logger.InfoCF("notify", "Posted reminder to Discord", map[string]any{"channel": n.channel})
	return nil
}

func (n *DiscordNotifier) Close() error {
	return n.session.Close()
}
