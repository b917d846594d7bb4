package service

import "regexp"

// Whole-message greetings only; "hello, what is insulin?" is a question.
var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(?:hi|hello|hey|hiya|greetings|howdy|good\s+(?:morning|afternoon|evening|day))(?:\s+(?:there|everyone|endochat))?[\s!.,?]*$`),
	regexp.MustCompile(`(?i)^\s*(?:bonjour|bonsoir|salut|coucou|allo|allô|bonne\s+journée)(?:\s+(?:à\s+tous|endochat))?[\s!.,?]*$`),
	regexp.MustCompile(`^\s*(?:مرحبا|مرحباً|أهلا|أهلاً|اهلا|سلام|السلام عليكم|صباح الخير|مساء الخير)[\s!.,?؟،]*$`),
}

// IsGreeting reports whether message is only a short greeting.
func IsGreeting(message string) bool {
	for _, re := range greetingPatterns {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}
