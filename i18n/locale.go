package i18n

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is used when neither configuration nor filters name one.
const DefaultLocale = "en_US"

// NormalizeLocale turns the usual spellings of a locale ("pt-br",
// "pt_BR.UTF-8", "de") into the underscore form used for catalog
// directories. Values the language package cannot parse are returned
// trimmed but otherwise untouched.
func NormalizeLocale(locale string) string {
	s := strings.TrimSpace(locale)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return ""
	}

	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return s
	}
	base, _ := tag.Base()
	region, conf := tag.Region()
	if conf == language.Exact {
		return base.String() + "_" + region.String()
	}
	return base.String()
}

// localeCandidates lists the locales tried for a catalog, most specific first.
func localeCandidates(locale string) []string {
	if locale == "" {
		return nil
	}
	candidates := []string{locale}
	if i := strings.IndexByte(locale, '_'); i > 0 {
		candidates = append(candidates, locale[:i])
	}
	return candidates
}

// MofilePath returns the conventional catalog path below a locale directory:
// <dir>/<locale>/LC_MESSAGES/<domain>.mo
func MofilePath(dir, locale, domain string) string {
	return filepath.Join(dir, locale, "LC_MESSAGES", domain+".mo")
}
