// Package telegram backs capability.SMSTransport with a Telegram bot:
// Telegram's chat model stands in for an SMS peer — poll-by-offset plays
// the role of poll-by-lastId, and ChunkMessage keeps replies under
// Telegram's 4096 character limit.
package telegram

import (
	"context"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// messageLimit is Telegram's hard cap on a single message's text length.
const messageLimit = 4096

// Transport is a capability.SMSTransport backed by the Telegram Bot API.
type Transport struct {
	bot     *tgbotapi.BotAPI
	allowed map[int64]bool
	logger  *zap.Logger
	mu      sync.Mutex
	chatID  int64 // discovered from the first allowed inbound message, or seeded from config
}

// New authorizes botToken and restricts Poll to messages from allowIDs. If
// allowIDs has at least one entry, its first value seeds chatID so Send can
// reply before any inbound message has arrived.
func New(botToken string, allowIDs []int64, logger *zap.Logger) (*Transport, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "authorize telegram bot", err)
	}

	allowed := make(map[int64]bool, len(allowIDs))
	var seed int64
	for i, id := range allowIDs {
		allowed[id] = true
		if i == 0 {
			seed = id
		}
	}

	t := &Transport{
		bot:     bot,
		allowed: allowed,
		logger:  logger.With(zap.String("component", "telegram-transport")),
		chatID:  seed,
	}
	t.logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return t, nil
}

// Poll fetches every update after lastID from an allowed chat, remembering
// the most recent sender's chat ID as the Send target.
func (t *Transport) Poll(ctx context.Context, lastID int64) ([]capability.InboundMessage, error) {
	cfg := tgbotapi.NewUpdate(int(lastID) + 1)
	cfg.Timeout = 0 // the scan loop owns polling cadence; don't long-poll inside it

	updates, err := t.bot.GetUpdates(cfg)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDownstream, "poll telegram updates", err)
	}

	sort.Slice(updates, func(i, j int) bool { return updates[i].UpdateID < updates[j].UpdateID })

	var out []capability.InboundMessage
	for _, u := range updates {
		if u.Message == nil || u.Message.Text == "" {
			continue
		}
		if len(t.allowed) > 0 && !t.allowed[u.Message.From.ID] {
			t.logger.Warn("dropped message from unauthorized sender", zap.Int64("userId", u.Message.From.ID))
			continue
		}
		t.mu.Lock()
		t.chatID = u.Message.Chat.ID
		t.mu.Unlock()
		out = append(out, capability.InboundMessage{ID: int64(u.UpdateID), Text: u.Message.Text})
	}
	return out, nil
}

// Send chunks text to Telegram's message-length limit and sends each part
// to the discovered chat, in order.
func (t *Transport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	chatID := t.chatID
	t.mu.Unlock()
	if chatID == 0 {
		return apperrors.NewPrecondition("no telegram chat known to send to yet")
	}

	for _, chunk := range chunkMessage(text) {
		msg := tgbotapi.NewMessage(chatID, chunk)
		if _, err := t.bot.Send(msg); err != nil {
			return apperrors.Wrap(apperrors.CodeDownstream, "send telegram message", err)
		}
	}
	return nil
}

func chunkMessage(text string) []string {
	if len(text) <= messageLimit {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > messageLimit {
		splitAt := splitPoint(remaining, messageLimit)
		chunks = append(chunks, remaining[:splitAt])
		remaining = strings.TrimLeft(remaining[splitAt:], " \t\r\n")
	}
	if remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

// splitPoint finds the best break point within the first maxLen bytes,
// preferring a paragraph break, then a line break, then a space, and
// falling back to a hard cut.
func splitPoint(text string, maxLen int) int {
	window := text[:maxLen]
	if idx := strings.LastIndex(window, "\n\n"); idx >= maxLen/2 {
		return idx
	}
	if idx := strings.LastIndex(window, "\n"); idx >= maxLen/2 {
		return idx
	}
	if idx := strings.LastIndex(window, " "); idx >= maxLen/3 {
		return idx
	}
	return maxLen
}
