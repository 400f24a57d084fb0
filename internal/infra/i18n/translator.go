package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// Translator resolves message keys (errors.generation_timeout, ...) to
// user-facing text for one locale.
type Translator struct {
	translations map[string]string
}

func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", fmt.Sprintf("%s.yaml", langCode))
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(data)
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T translates a key, falling back to the key itself when unknown.
// Args are applied only when the message actually has verbs, so a
// backend hint never garbles a plain message.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 && strings.ContainsRune(format, '%') {
		return fmt.Sprintf(format, args...)
	}
	return format
}

// Bundle holds one Translator per locale with a default fallback.
type Bundle struct {
	byLocale map[string]*Translator
	fallback string
}

func NewBundle(fsys fs.FS, locales []string, fallback string) (*Bundle, error) {
	b := &Bundle{byLocale: make(map[string]*Translator, len(locales)), fallback: fallback}
	for _, l := range locales {
		tr, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		b.byLocale[l] = tr
	}
	if _, ok := b.byLocale[fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %q not loaded", fallback)
	}
	return b, nil
}

// For picks the Translator for a locale, falling back to the default.
func (b *Bundle) For(locale string) *Translator {
	if tr, ok := b.byLocale[locale]; ok {
		return tr
	}
	return b.byLocale[b.fallback]
}
