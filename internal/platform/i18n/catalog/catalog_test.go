package catalog

import (
	"testing"
	"testing/fstest"
)

func TestLoadEmbeddedHasBaseLocale(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}
	locales := bundle.Locales()
	if len(locales) < 2 {
		t.Fatalf("locales = %v", locales)
	}
	if !bundle.HasKey("activity.dice_rolled") {
		t.Fatal("expected activity.dice_rolled in base locale")
	}
}

func TestPrinterFormatsMessages(t *testing.T) {
	bundle, err := LoadEmbedded()
	if err != nil {
		t.Fatalf("load embedded catalogs: %v", err)
	}

	tests := []struct {
		locale string
		key    string
		args   []any
		want   string
	}{
		{"", "activity.dice_rolled", []any{4, 7}, "Rolled 4, moved to position 7"},
		{"en-US", "activity.point_earned", []any{3}, "Earned point! Total: 3"},
		{"es-419", "activity.point_earned", []any{3}, "¡Punto ganado! Total: 3"},
		{"es-419", "activity.resubscribed", nil, "Live updates restored"},
		{"fr-FR", "activity.game_started", nil, "Game started!"},
		{"not a tag", "activity.game_started", nil, "Game started!"},
	}
	for _, tt := range tests {
		got := bundle.Printer(tt.locale).Sprintf(tt.key, tt.args...)
		if got != tt.want {
			t.Fatalf("%s/%s = %q, want %q", tt.locale, tt.key, got, tt.want)
		}
	}
}

func TestLoadFromFSValidation(t *testing.T) {
	base := &fstest.MapFile{Data: []byte(`locale: "en-US"
namespace: "activity"
messages:
  "activity.ok": "ok"
`)}
	tests := []struct {
		name  string
		files fstest.MapFS
	}{
		{"empty", fstest.MapFS{}},
		{"missing base locale", fstest.MapFS{
			"locales/pt-BR/activity.yaml": &fstest.MapFile{Data: []byte("locale: \"pt-BR\"\nnamespace: \"activity\"\nmessages:\n  \"activity.ok\": \"ok\"\n")},
		}},
		{"locale mismatch", fstest.MapFS{
			"locales/en-US/activity.yaml": base,
			"locales/pt-BR/activity.yaml": &fstest.MapFile{Data: []byte("locale: \"es-419\"\nnamespace: \"activity\"\nmessages:\n  \"activity.ok\": \"ok\"\n")},
		}},
		{"key outside namespace", fstest.MapFS{
			"locales/en-US/activity.yaml": base,
			"locales/en-US/status.yaml":   &fstest.MapFile{Data: []byte("locale: \"en-US\"\nnamespace: \"status\"\nmessages:\n  \"activity.other\": \"x\"\n")},
		}},
		{"unquoted value", fstest.MapFS{
			"locales/en-US/activity.yaml": &fstest.MapFile{Data: []byte("locale: \"en-US\"\nnamespace: \"activity\"\nmessages:\n  \"activity.ok\": ok\n")},
		}},
		{"stray line", fstest.MapFS{
			"locales/en-US/activity.yaml": &fstest.MapFile{Data: []byte("locale: \"en-US\"\nstray\n")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadFromFS(tt.files); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseMessageEntryHandlesEscapes(t *testing.T) {
	key, value, err := parseMessageEntry(`"activity.quote\"d": "say \"hi\""`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if key != `activity.quote"d` || value != `say "hi"` {
		t.Fatalf("key = %q value = %q", key, value)
	}
}
