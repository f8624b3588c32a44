package i18n

import (
	"strings"
	"testing"

	"github.com/prompt-refiner-go/internal/config"
)

func newTestLocalizer(t *testing.T) *Localizer {
	t.Helper()
	l, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en", "zh"}})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}
	return l
}

func TestGetTemplateData(t *testing.T) {
	l := newTestLocalizer(t)

	got := l.Get("en", MsgDailyLimitReached, map[string]interface{}{"Limit": 5})
	want := "Daily limit reached. You can generate 5 prompts per day. Try again tomorrow!"
	if got != want {
		t.Errorf("Get = %q, want %q", got, want)
	}
}

func TestGetLanguageSelection(t *testing.T) {
	l := newTestLocalizer(t)

	if got := l.Get("zh", MsgResetSuccess, nil); got != "对话已重置" {
		t.Errorf("zh = %q", got)
	}
	if got := l.Get("zh-CN,zh;q=0.9,en;q=0.8", MsgResetSuccess, nil); got != "对话已重置" {
		t.Errorf("Accept-Language zh = %q", got)
	}
	if got := l.Get("fr-FR", MsgResetSuccess, nil); got != "Conversation reset successfully" {
		t.Errorf("unsupported language should fall back to default, got %q", got)
	}
	if got := l.Get("", MsgInvalidState, nil); got != "Invalid conversation state" {
		t.Errorf("empty language = %q", got)
	}
}

func TestEveryMessageTranslated(t *testing.T) {
	l := newTestLocalizer(t)
	ids := []string{
		MsgInvalidInput, MsgMissingToken, MsgInvalidToken, MsgDailyLimitReached,
		MsgInvalidState, MsgUpstreamFailure, MsgInternalError, MsgResetSuccess,
		MsgAccessGranted, MsgSecretInfo, MsgRateLimitExceeded, MsgTelegramWelcome,
		MsgTelegramRemaining, MsgTelegramFinalFooter, MsgUnknownCommand,
	}
	for _, lang := range []string{"en", "zh"} {
		for _, id := range ids {
			got := l.Get(lang, id, map[string]interface{}{"Limit": 5, "Remaining": 2})
			if got == id || strings.Contains(got, "<no value>") {
				t.Errorf("%s/%s not translated: %q", lang, id, got)
			}
		}
	}
}

func TestUnknownLanguageFile(t *testing.T) {
	if _, err := NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"klingon"}}); err == nil {
		t.Fatal("expected error for missing language file")
	}
}
