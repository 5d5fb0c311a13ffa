// Package catalog loads the embedded message catalogs and exposes them as
// x/text printers.
package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	textcatalog "golang.org/x/text/message/catalog"
)

// BaseLocale is the locale every other catalog falls back to.
const BaseLocale = "en-US"

//go:embed locales/*/*.yaml
var embeddedFS embed.FS

type catalogFile struct {
	Locale    string
	Namespace string
	Messages  map[string]string
}

// Bundle holds every loaded locale and the x/text catalog built from it.
type Bundle struct {
	locales map[string]map[string]string
	tags    []language.Tag
	builder *textcatalog.Builder
	matcher language.Matcher
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded() (*Bundle, error) {
	return LoadFromFS(embeddedFS)
}

// LoadFromFS loads locales/<locale>/<namespace>.yaml files from catalogFS.
func LoadFromFS(catalogFS fs.FS) (*Bundle, error) {
	paths, err := fs.Glob(catalogFS, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	bundle := &Bundle{locales: map[string]map[string]string{}}
	for _, p := range paths {
		data, err := fs.ReadFile(catalogFS, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		parsed, err := parseCatalogFile(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		if err := bundle.add(p, parsed); err != nil {
			return nil, err
		}
	}
	if _, ok := bundle.locales[BaseLocale]; !ok {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}
	if err := bundle.build(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (b *Bundle) add(p string, file catalogFile) error {
	dir, name := path.Split(p)
	localeFromPath := path.Base(dir)
	namespaceFromPath := strings.TrimSuffix(name, path.Ext(name))

	if file.Locale != localeFromPath {
		return fmt.Errorf("catalog %s: locale %q must match path locale %q", p, file.Locale, localeFromPath)
	}
	if file.Namespace != namespaceFromPath {
		return fmt.Errorf("catalog %s: namespace %q must match filename %q", p, file.Namespace, namespaceFromPath)
	}

	messages, ok := b.locales[file.Locale]
	if !ok {
		messages = map[string]string{}
		b.locales[file.Locale] = messages
	}
	prefix := file.Namespace + "."
	for key, value := range file.Messages {
		if !strings.HasPrefix(key, prefix) {
			return fmt.Errorf("catalog %s: key %q must start with %q", p, key, prefix)
		}
		if _, exists := messages[key]; exists {
			return fmt.Errorf("catalog %s: duplicate key %q in locale %q", p, key, file.Locale)
		}
		messages[key] = value
	}
	return nil
}

// build registers every locale with a private x/text catalog. Keys missing
// from a locale are filled from the base locale.
func (b *Bundle) build() error {
	base := b.locales[BaseLocale]
	builder := textcatalog.NewBuilder(textcatalog.Fallback(language.MustParse(BaseLocale)))
	tags := make([]language.Tag, 0, len(b.locales))
	tags = append(tags, language.MustParse(BaseLocale))

	for _, locale := range b.Locales() {
		tag, err := language.Parse(locale)
		if err != nil {
			return fmt.Errorf("parse locale tag %q: %w", locale, err)
		}
		if locale != BaseLocale {
			tags = append(tags, tag)
		}
		messages := b.locales[locale]
		for key, value := range base {
			if localized, ok := messages[key]; ok {
				value = localized
			}
			if err := builder.SetString(tag, key, value); err != nil {
				return fmt.Errorf("register %s %s: %w", locale, key, err)
			}
		}
	}
	b.builder = builder
	b.tags = tags
	b.matcher = language.NewMatcher(tags)
	return nil
}

// Locales returns the loaded locale identifiers, sorted.
func (b *Bundle) Locales() []string {
	if b == nil {
		return nil
	}
	out := make([]string, 0, len(b.locales))
	for locale := range b.locales {
		out = append(out, locale)
	}
	sort.Strings(out)
	return out
}

// HasKey reports whether the base locale defines key.
func (b *Bundle) HasKey(key string) bool {
	if b == nil {
		return false
	}
	_, ok := b.locales[BaseLocale][key]
	return ok
}

// Printer returns a printer for the closest loaded locale. Unknown or
// blank locales get the base locale.
func (b *Bundle) Printer(locale string) *message.Printer {
	tag := language.MustParse(BaseLocale)
	if trimmed := strings.TrimSpace(locale); trimmed != "" {
		if requested, err := language.Parse(trimmed); err == nil {
			_, index, confidence := b.matcher.Match(requested)
			if confidence != language.No {
				tag = b.tags[index]
			}
		}
	}
	return message.NewPrinter(tag, message.Catalog(b.builder))
}

func parseCatalogFile(data []byte) (catalogFile, error) {
	out := catalogFile{Messages: map[string]string{}}
	inMessages := false

	for _, rawLine := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "locale:"):
			value, err := strconv.Unquote(strings.TrimSpace(strings.TrimPrefix(line, "locale:")))
			if err != nil {
				return catalogFile{}, fmt.Errorf("parse locale: %w", err)
			}
			out.Locale = value
		case strings.HasPrefix(line, "namespace:"):
			value, err := strconv.Unquote(strings.TrimSpace(strings.TrimPrefix(line, "namespace:")))
			if err != nil {
				return catalogFile{}, fmt.Errorf("parse namespace: %w", err)
			}
			out.Namespace = value
		case line == "messages:":
			inMessages = true
		default:
			if !inMessages {
				return catalogFile{}, fmt.Errorf("unexpected line %q", line)
			}
			key, value, err := parseMessageEntry(line)
			if err != nil {
				return catalogFile{}, fmt.Errorf("parse message entry %q: %w", line, err)
			}
			out.Messages[key] = value
		}
	}

	switch {
	case out.Locale == "":
		return catalogFile{}, fmt.Errorf("missing locale")
	case out.Namespace == "":
		return catalogFile{}, fmt.Errorf("missing namespace")
	case len(out.Messages) == 0:
		return catalogFile{}, fmt.Errorf("missing messages")
	}
	return out, nil
}

// parseMessageEntry splits `"key": "value"` into its unquoted halves.
func parseMessageEntry(line string) (string, string, error) {
	end := closingQuote(line)
	if end < 0 {
		return "", "", fmt.Errorf("expected quoted key")
	}
	key, err := strconv.Unquote(line[:end+1])
	if err != nil {
		return "", "", fmt.Errorf("unquote key: %w", err)
	}
	rest := strings.TrimSpace(line[end+1:])
	if !strings.HasPrefix(rest, ":") {
		return "", "", fmt.Errorf("missing ':' separator")
	}
	value, err := strconv.Unquote(strings.TrimSpace(rest[1:]))
	if err != nil {
		return "", "", fmt.Errorf("unquote value: %w", err)
	}
	return key, value, nil
}

func closingQuote(line string) int {
	if !strings.HasPrefix(line, "\"") {
		return -1
	}
	escaped := false
	for i := 1; i < len(line); i++ {
		switch {
		case escaped:
			escaped = false
		case line[i] == '\\':
			escaped = true
		case line[i] == '"':
			return i
		}
	}
	return -1
}
