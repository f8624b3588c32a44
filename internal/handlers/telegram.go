package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prompt-refiner-go/internal/i18n"
	"github.com/prompt-refiner-go/internal/middleware"
	"github.com/prompt-refiner-go/internal/orchestrator"
	"github.com/prompt-refiner-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// telegramMaxText is the longest text Telegram accepts in one message.
const telegramMaxText = 4096

// Sender is the part of *tgbotapi.BotAPI the handler needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// TelegramHandler runs refinement conversations over Telegram chats.
type TelegramHandler struct {
	bot             Sender
	orchestrator    *orchestrator.Orchestrator
	rateLimiter     middleware.RateLimiter
	localizer       *i18n.Localizer
	metrics         *middleware.Metrics
	defaultLanguage string
	logger          *logrus.Logger
}

// NewTelegramHandler creates a new Telegram handler. metrics may be nil.
func NewTelegramHandler(
	bot Sender,
	orch *orchestrator.Orchestrator,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	defaultLanguage string,
	logger *logrus.Logger,
) *TelegramHandler {
	return &TelegramHandler{
		bot:             bot,
		orchestrator:    orch,
		rateLimiter:     rateLimiter,
		localizer:       localizer,
		metrics:         metrics,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

// TelegramUserID namespaces Telegram users apart from token subjects.
func TelegramUserID(id int64) string {
	return fmt.Sprintf("tg:%d", id)
}

// HandleUpdate processes one update. Updates without a text message are ignored.
func (h *TelegramHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	message := update.Message
	if message == nil || message.From == nil || message.Text == "" {
		return nil
	}

	lang := message.From.LanguageCode
	if lang == "" {
		lang = h.defaultLanguage
	}

	if message.IsCommand() {
		if h.metrics != nil {
			h.metrics.RecordCommandExecuted(message.Command())
		}
		return h.handleCommand(ctx, message, lang)
	}
	return h.handleText(ctx, message, lang)
}

func (h *TelegramHandler) handleCommand(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID
	userID := TelegramUserID(message.From.ID)

	switch message.Command() {
	case "start":
		return h.sendPlain(chatID, h.localizer.Get(lang, i18n.MsgTelegramWelcome, nil))
	case "reset":
		if err := h.orchestrator.Reset(ctx, userID); err != nil {
			return h.sendFailure(chatID, lang, err)
		}
		return h.sendPlain(chatID, h.localizer.Get(lang, i18n.MsgResetSuccess, nil))
	case "remaining":
		remaining, err := h.orchestrator.Remaining(ctx, userID)
		if err != nil {
			return h.sendFailure(chatID, lang, err)
		}
		return h.sendPlain(chatID, h.localizer.Get(lang, i18n.MsgTelegramRemaining, map[string]interface{}{
			"Remaining": remaining,
		}))
	default:
		return h.sendPlain(chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
	}
}

func (h *TelegramHandler) handleText(ctx context.Context, message *tgbotapi.Message, lang string) error {
	chatID := message.Chat.ID
	userID := TelegramUserID(message.From.ID)

	// Check rate limit
	if !h.rateLimiter.Allow(userID) {
		if h.metrics != nil {
			h.metrics.RecordRateLimitExceeded()
		}
		return h.sendPlain(chatID, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
	}

	if _, err := h.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		h.logger.WithError(err).Debug("Failed to send typing action")
	}

	reply, err := h.orchestrator.HandleMessage(ctx, userID, message.Text)
	if err != nil {
		return h.sendFailure(chatID, lang, err)
	}

	text := reply.Text
	if reply.IsFinalGeneration {
		text += "\n\n" + h.localizer.Get(lang, i18n.MsgTelegramFinalFooter, map[string]interface{}{
			"Remaining": reply.RemainingPrompts,
		})
	}
	return h.sendResponse(chatID, text)
}

// sendResponse sends markdown as Telegram HTML, falling back to plain
// text chunks when the HTML is rejected or too long.
func (h *TelegramHandler) sendResponse(chatID int64, response string) error {
	html := markdown.ToTelegramHTML(response)
	if len([]rune(html)) <= telegramMaxText {
		msg := tgbotapi.NewMessage(chatID, html)
		msg.ParseMode = tgbotapi.ModeHTML
		_, err := h.bot.Send(msg)
		if err == nil {
			return nil
		}
		h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
	}
	return h.sendPlain(chatID, response)
}

func (h *TelegramHandler) sendPlain(chatID int64, text string) error {
	for _, chunk := range splitText(text, telegramMaxText) {
		if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			h.logger.WithError(err).Error("Failed to send message")
			return err
		}
	}
	return nil
}

func (h *TelegramHandler) sendFailure(chatID int64, lang string, err error) error {
	_, messageID, data := errorStatus(err, h.orchestrator.Limit())
	h.logger.WithFields(logrus.Fields{
		"chat_id": chatID,
		"error":   err,
	}).Warn("Turn failed")
	return h.sendPlain(chatID, h.localizer.Get(lang, messageID, data))
}

// splitText cuts text into pieces of at most limit runes, preferring to
// break at a newline.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > 0; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return append(chunks, string(runes))
}
