package sink

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/marko911/presale-pulse/internal/config"
)

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Slack posts a rendered alert to a channel.
type Slack struct {
	client  slackPoster
	channel string
	buyURL  string
	lockURL string
	format  Formatter
}

// NewSlack creates a Slack publisher using a bot token.
func NewSlack(cfg config.SlackSinkConfig, format Formatter) *Slack {
	return newSlack(slack.New(cfg.Token), cfg, format)
}

func newSlack(client slackPoster, cfg config.SlackSinkConfig, format Formatter) *Slack {
	return &Slack{
		client:  client,
		channel: cfg.Channel,
		buyURL:  cfg.BuyURL,
		lockURL: cfg.LockURL,
		format:  format,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Publish(ctx context.Context, msg Message) error {
	text := s.format.Render(msg)

	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(s.blocks(text, msg)...),
	)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}

// blocks lays out the alert text followed by the Buy and Lock link buttons
// that are configured.
func (s *Slack) blocks(text string, msg Message) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil),
	}

	var buttons []slack.BlockElement
	if s.buyURL != "" {
		buttons = append(buttons, s.linkButton("buy", "🚀 Buy $"+s.format.Token, s.buyURL, msg))
	}
	if s.lockURL != "" {
		buttons = append(buttons, s.linkButton("lock", "🔒 Lock $"+s.format.Token, s.lockURL, msg))
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slack.NewActionBlock("purchase_actions", buttons...))
	}
	return blocks
}

func (s *Slack) linkButton(action, label, url string, msg Message) *slack.ButtonBlockElement {
	btn := slack.NewButtonBlockElement(action, msg.TxHash,
		slack.NewTextBlockObject(slack.PlainTextType, label, true, false))
	btn.URL = url
	return btn
}
