package platform

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

// LocaleEnv forces the locale used for localized artifact names.
const LocaleEnv = "CHAINBOOT_LOCALE"

// DefaultLocale is used when nothing else can be determined.
const DefaultLocale = "en-US"

// DetectLocale returns the user's locale as a canonical BCP 47 tag.
// $CHAINBOOT_LOCALE wins, then LC_ALL, LC_MESSAGES and LANG, then the
// operating system's user default.
func DetectLocale() string {
	for _, key := range []string{LocaleEnv, "LC_ALL", "LC_MESSAGES", "LANG"} {
		if tag, ok := CanonicalLocale(os.Getenv(key)); ok {
			return tag
		}
	}
	if tag, ok := CanonicalLocale(systemLocale()); ok {
		return tag
	}
	return DefaultLocale
}

// CanonicalLocale converts POSIX ("de_DE.UTF-8@euro") or BCP 47 ("de-de")
// spellings into a canonical tag ("de-DE"). "C" and "POSIX" carry no
// language and are rejected.
func CanonicalLocale(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "C" || s == "POSIX" {
		return "", false
	}
	s = strings.ReplaceAll(s, "_", "-")

	tag, err := language.Parse(s)
	if err != nil || tag == language.Und {
		return "", false
	}
	return tag.String(), true
}
