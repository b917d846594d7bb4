package logger

import (
	"io"
	"regexp"
)

// Redactor masks credentials that may end up in error messages.
type Redactor struct {
	patterns []*regexp.Regexp
}

func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)api[_-]?key["\s:=]+[^\s",]+`),
		},
	}
}

// Redact replaces every credential match with [REDACTED].
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
