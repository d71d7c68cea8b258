package main

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"pkt.systems/pslog"
)

// FailureNotifier is told when a session gives up reconnecting.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, sessionID, detail string) error
}

type nopNotifier struct{}

func (nopNotifier) NotifyFailure(context.Context, string, string) error { return nil }

// telegramSender is the slice of the bot API the notifier needs.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts exhaustion alerts to a set of chats.
type TelegramNotifier struct {
	bot     telegramSender
	chatIDs []int64
	log     pslog.Logger
	maxLen  int
	pause   time.Duration
}

// NewTelegramNotifier connects to the bot API with token.
func NewTelegramNotifier(token string, chatIDs []int64, log pslog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info("telegram notifier ready", "bot", bot.Self.UserName, "chats", len(chatIDs))
	return newTelegramNotifier(bot, chatIDs, log), nil
}

func newTelegramNotifier(bot telegramSender, chatIDs []int64, log pslog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		log:     log,
		maxLen:  4000,
		pause:   100 * time.Millisecond,
	}
}

// NotifyFailure sends the alert to every chat, splitting long details into
// several <pre> messages. The first send error is returned after all chats
// were tried.
func (n *TelegramNotifier) NotifyFailure(ctx context.Context, sessionID, detail string) error {
	header := fmt.Sprintf("<b>webterm</b>: session <code>%s</code> lost its connection and stopped reconnecting.",
		html.EscapeString(sessionID))
	messages := []string{header}
	if detail = strings.TrimSpace(detail); detail != "" {
		for _, chunk := range splitAtSafeBoundary(html.EscapeString(detail), n.maxLen-len("<pre></pre>")) {
			messages = append(messages, "<pre>"+chunk+"</pre>")
		}
	}

	var firstErr error
	for _, chatID := range n.chatIDs {
		for i, text := range messages {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(n.pause):
				}
			}
			msg := tgbotapi.NewMessage(chatID, text)
			msg.ParseMode = tgbotapi.ModeHTML
			if _, err := n.bot.Send(msg); err != nil {
				n.log.Warn("telegram send failed", "chat", chatID, "err", err)
				if firstErr == nil {
					firstErr = fmt.Errorf("notify chat %d: %w", chatID, err)
				}
				break
			}
		}
	}
	return firstErr
}

// splitAtSafeBoundary splits s into pieces of at most maxLen bytes without
// cutting through an HTML entity or a UTF-8 sequence.
func splitAtSafeBoundary(s string, maxLen int) []string {
	if maxLen <= 0 {
		return []string{s}
	}
	var parts []string
	for len(s) > maxLen {
		end := maxLen
		for j := end - 1; j >= 0 && j >= end-10; j-- {
			if s[j] == ';' {
				break
			}
			if s[j] == '&' {
				end = j
				break
			}
		}
		for end > 0 && end < len(s) && s[end]&0xC0 == 0x80 {
			end--
		}
		if end == 0 {
			end = maxLen
		}
		parts = append(parts, s[:end])
		s = s[end:]
	}
	if len(s) > 0 {
		parts = append(parts, s)
	}
	return parts
}
