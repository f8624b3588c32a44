package prompts

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestDefaultTemplatesPlaceholders(t *testing.T) {
	lib := Default()

	want := map[TemplateID][]string{
		Round1:   {UserContext},
		Round2:   {InitialContext, Round1Questions, Round1Answers},
		Round3:   {InitialContext, HistoryLog},
		Generate: {InitialContext, HistoryLog},
	}
	for id, names := range want {
		if got := lib.Placeholders(id); !reflect.DeepEqual(got, names) {
			t.Errorf("%s placeholders = %v, want %v", id, got, names)
		}
	}
}

func TestRenderSubstitutesValues(t *testing.T) {
	out := Default().Render(Round1, map[string]string{UserContext: "a marketing email"})

	if !strings.Contains(out, `"a marketing email"`) {
		t.Errorf("rendered round1 missing user context:\n%s", out)
	}
	if strings.Contains(out, "{user_context}") {
		t.Error("placeholder left unsubstituted")
	}
}

func TestRenderEveryOccurrenceSinglePass(t *testing.T) {
	lib := &Library{templates: map[TemplateID]string{
		Round3: "{initial_context} / {initial_context} / {history_log}",
	}}

	out := lib.Render(Round3, map[string]string{
		InitialContext: "uses {history_log} literally",
		HistoryLog:     "H",
	})

	want := "uses {history_log} literally / uses {history_log} literally / H"
	if out != want {
		t.Errorf("Render = %q, want %q", out, want)
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	lib := &Library{templates: map[TemplateID]string{Round1: "a {user_context} b {other}"}}

	out := lib.Render(Round1, map[string]string{UserContext: "x"})
	if out != "a x b {other}" {
		t.Errorf("Render = %q", out)
	}
}

func TestRenderUnknownTemplatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for unknown template")
		}
	}()
	Default().Render(TemplateID("round9"), nil)
}

func TestLoadDirOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "round1.txt"), []byte("custom {user_context}"), 0o600); err != nil {
		t.Fatal(err)
	}

	lib := Default()
	n, err := lib.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if n != 1 {
		t.Errorf("loaded %d templates, want 1", n)
	}
	if got := lib.Render(Round1, map[string]string{UserContext: "x"}); got != "custom x" {
		t.Errorf("Render = %q", got)
	}
	if !strings.Contains(lib.Render(Generate, nil), "production-ready prompt") {
		t.Error("generate template should remain the built-in one")
	}
}

func TestLoadDirRejectsEmptyTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "round2.txt"), []byte("  \n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Default().LoadDir(dir); err == nil {
		t.Fatal("expected error for empty template")
	}
}

func TestLoadDirMissing(t *testing.T) {
	if _, err := Default().LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
