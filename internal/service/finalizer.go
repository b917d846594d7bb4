package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
)

// FinalizerMode selects how a model response's sources section is handled.
type FinalizerMode string

const (
	// ModeAttribute completes or appends the sources footer from the stored record.
	ModeAttribute FinalizerMode = "attribute"
	// ModeStrip removes any sources section the model wrote.
	ModeStrip FinalizerMode = "strip"
)

func ParseFinalizerMode(s string) (FinalizerMode, error) {
	switch m := FinalizerMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModeAttribute:
		return ModeAttribute, nil
	case ModeStrip:
		return ModeStrip, nil
	default:
		return "", fmt.Errorf("unknown finalizer mode %q", s)
	}
}

// The marker must not be preceded by a letter, so "Resources:" is not one.
var sourcesMarker = regexp.MustCompile(`(?i)(?:^|[^\p{L}])((?:sources?|r[ée]f[ée]rences|المصادر|مصادر)\s*:)`)

// Tails shorter than this after the last marker count as an unfinished list.
const minSourcesTail = 5

type SourcesReader interface {
	LoadSources(userID string) ([]domain.Source, error)
}

// Finalizer post-processes a generated response and appends it to the history.
type Finalizer struct {
	mode          FinalizerMode
	sources       SourcesReader
	conversations ConversationStore
}

func NewFinalizer(mode FinalizerMode, sources SourcesReader, conversations ConversationStore) *Finalizer {
	if mode == "" {
		mode = ModeAttribute
	}
	return &Finalizer{mode: mode, sources: sources, conversations: conversations}
}

// Finalize returns history extended with the processed assistant turn and
// persists it for userID.
func (f *Finalizer) Finalize(history domain.History, response, userID string) domain.History {
	return f.finalize(history, response, userID, true)
}

// finalize skips the sources record when attribute is false, as after a
// fallback turn that wrote none.
func (f *Finalizer) finalize(history domain.History, response, userID string, attribute bool) domain.History {
	content := response
	switch {
	case f.mode == ModeStrip:
		content = StripSources(response)
	case attribute:
		content = AttributeSources(response, f.loadSources(userID))
	}

	updated := history.Append(domain.Turn{Role: domain.RoleAssistant, Content: content})
	if f.conversations != nil && userID != "" {
		if err := f.conversations.Save(userID, updated); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to save conversation")
		}
	}
	return updated
}

func (f *Finalizer) loadSources(userID string) []domain.Source {
	if f.sources == nil || userID == "" {
		return nil
	}
	sources, err := f.sources.LoadSources(userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Sources record unreadable, response left as is")
		return nil
	}
	return sources
}

// AttributeSources completes a dangling sources marker with the footer, or
// appends a sources line when the response has none. A marker already
// followed by a list is left alone.
func AttributeSources(response string, sources []domain.Source) string {
	footer := FormatSources(sources)
	if footer == "" {
		return response
	}
	locs := sourcesMarker.FindAllStringSubmatchIndex(response, -1)
	if len(locs) == 0 {
		return response + "\n\nSources: " + footer
	}
	end := locs[len(locs)-1][3]
	if utf8.RuneCountInString(strings.TrimSpace(response[end:])) < minSourcesTail {
		return response[:end] + " " + footer
	}
	return response
}

// StripSources drops everything from the first sources marker on.
func StripSources(response string) string {
	loc := sourcesMarker.FindStringSubmatchIndex(response)
	if loc == nil {
		return strings.TrimSpace(response)
	}
	return strings.TrimSpace(response[:loc[2]])
}

// FormatSources lists filenames in first-seen order with their known pages,
// e.g. "guide.pdf (pages 3, 4), notes.txt".
func FormatSources(sources []domain.Source) string {
	type entry struct {
		name  string
		pages []string
		seen  map[string]struct{}
	}
	var order []*entry
	byName := make(map[string]*entry)
	for _, s := range sources {
		if s.Filename == "" {
			continue
		}
		e, ok := byName[s.Filename]
		if !ok {
			e = &entry{name: s.Filename, seen: make(map[string]struct{})}
			byName[s.Filename] = e
			order = append(order, e)
		}
		if !s.Page.Known() {
			continue
		}
		p := s.Page.String()
		if _, dup := e.seen[p]; dup {
			continue
		}
		e.seen[p] = struct{}{}
		e.pages = append(e.pages, p)
	}

	parts := make([]string, 0, len(order))
	for _, e := range order {
		switch len(e.pages) {
		case 0:
			parts = append(parts, e.name)
		case 1:
			parts = append(parts, fmt.Sprintf("%s (page %s)", e.name, e.pages[0]))
		default:
			parts = append(parts, fmt.Sprintf("%s (pages %s)", e.name, strings.Join(e.pages, ", ")))
		}
	}
	return strings.Join(parts, ", ")
}
