package i18n

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/prompt-refiner-go/internal/config"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	// Load language files
	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFileFS(locales, fmt.Sprintf("locales/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message. lang is either a configured language tag
// or a raw Accept-Language header value.
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		if lang == "" {
			localizer = l.localizers[l.defaultLanguage]
		} else {
			localizer = i18n.NewLocalizer(l.bundle, lang, l.defaultLanguage)
		}
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgInvalidInput        = "invalid_input"
	MsgMissingToken        = "unauthorized_missing_token"
	MsgInvalidToken        = "unauthorized_invalid_token"
	MsgDailyLimitReached   = "daily_limit_reached"
	MsgInvalidState        = "invalid_state"
	MsgUpstreamFailure     = "upstream_failure"
	MsgInternalError       = "internal_error"
	MsgResetSuccess        = "reset_success"
	MsgAccessGranted       = "access_granted"
	MsgSecretInfo          = "secret_info"
	MsgRateLimitExceeded   = "rate_limit_exceeded"
	MsgTelegramWelcome     = "telegram_welcome"
	MsgTelegramRemaining   = "telegram_remaining"
	MsgTelegramFinalFooter = "telegram_final_footer"
	MsgUnknownCommand      = "unknown_command"
)
