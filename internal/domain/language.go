package domain

import "strings"

// Language selects the response language directive. The empty value mirrors the user.
type Language string

const (
	LanguageAuto    Language = ""
	LanguageEnglish Language = "en"
	LanguageFrench  Language = "fr"
	LanguageArabic  Language = "ar"
)

// ParseLanguage maps codes such as "fr", "FR" or "fr-CA" to a Language.
// Anything unsupported mirrors the user.
func ParseLanguage(s string) Language {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i >= 0 {
		s = s[:i]
	}
	switch Language(s) {
	case LanguageEnglish, LanguageFrench, LanguageArabic:
		return Language(s)
	default:
		return LanguageAuto
	}
}
