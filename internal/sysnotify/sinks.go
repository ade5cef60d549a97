package sysnotify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
	tele "gopkg.in/telebot.v4"

	"blackoutd/internal/model"
	logx "blackoutd/pkg/logx"
)

// LogSink writes notifications to the structured log. It is the default sink
// on hosts without any other delivery channel.
type LogSink struct{ Log logx.Logger }

func (LogSink) Name() string { return "log" }

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Log.Info("notification", logx.String("title", n.Title), logx.String("body", n.Body), logx.String("type", string(n.Type)))
	return nil
}

// ShoutrrrSink sends through one shoutrrr router built from service URLs
// (ntfy, gotify, pushover, desktop bridges, ...).
type ShoutrrrSink struct {
	sender *router.ServiceRouter
}

func NewShoutrrrSink(urls []string, timeout time.Duration) (*ShoutrrrSink, error) {
	if len(urls) == 0 {
		return nil, errors.New("at least one URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("shoutrrr: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSink{sender: sender}, nil
}

func (*ShoutrrrSink) Name() string { return "shoutrrr" }

func (s *ShoutrrrSink) Send(ctx context.Context, n Notification) error {
	_ = ctx // router handles its own timeouts
	params := stypes.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}
	for _, err := range s.sender.Send(n.Body, &params) {
		if err != nil {
			return err
		}
	}
	return nil
}

// TelegramSink posts notifications to one chat via the Bot API.
type TelegramSink struct {
	bot  *tele.Bot
	chat *tele.Chat
}

func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	// Offline skips the getMe round-trip; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSink{bot: b, chat: &tele.Chat{ID: chatID}}, nil
}

func (*TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(ctx context.Context, n Notification) error {
	_ = ctx
	text := prefixForType(n.Type) + "<b>" + escapeHTML(n.Title) + "</b>"
	if n.Body != "" {
		text += "\n" + escapeHTML(n.Body)
	}
	_, err := s.bot.Send(s.chat, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	return err
}

func prefixForType(t model.NotificationType) string {
	switch t {
	case model.TypeWarning:
		return "⚠️ "
	case model.TypeSuccess:
		return "✅ "
	default:
		return "ℹ️ "
	}
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string { return htmlEscaper.Replace(s) }
