package payment

import "strings"

const DefaultLanguage = "EN"

// languageMatches is checked in order; the first prefix that matches wins.
var languageMatches = []struct {
	prefix   string
	language string
}{
	{"he", "HE"},
	{"ru", "RU"},
	{"es", "ES"},
}

// ResolveLocale maps a locale signal such as "he", "he_IL" or "ru-RU" to one
// of the languages the hosted payment page understands.
func ResolveLocale(signal string) string {
	lang := strings.ToLower(strings.TrimSpace(signal))
	if i := strings.IndexAny(lang, "_-"); i >= 0 {
		lang = lang[:i]
	}
	for _, m := range languageMatches {
		if lang == m.prefix {
			return m.language
		}
	}
	return DefaultLanguage
}
