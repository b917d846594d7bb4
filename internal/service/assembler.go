package service

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog/log"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

// ConversationStore persists conversation histories per user.
type ConversationStore interface {
	Load(userID string) domain.History
	Save(userID string, history domain.History) error
}

// AttributionStore holds the per-user source and image records.
type AttributionStore interface {
	SaveSources(userID string, sources []domain.Source) error
	LoadSources(userID string) ([]domain.Source, error)
	SaveImages(userID string, images []domain.ImageMatch) error
}

// ImageMatcher selects catalog images relevant to a query.
type ImageMatcher interface {
	Match(query string, lang domain.Language) []domain.ImageMatch
}

type AssemblerConfig struct {
	TopK              int
	DistanceThreshold float64
	HistoryWindow     int
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{TopK: 5, DistanceThreshold: 1.5, HistoryWindow: 10}
}

type AssembleRequest struct {
	Message  string
	History  domain.History
	UserID   string
	Language domain.Language
}

// AssembleResult is the prompt ready for generation plus the history that
// now ends with the user's message.
type AssembleResult struct {
	Prompt   string
	History  domain.History
	Sources  []domain.Source
	Images   []domain.ImageMatch
	Greeting bool
	Fallback bool
}

// Assembler turns a user message into a grounded prompt and records which
// sources and images backed it.
type Assembler struct {
	searcher      domain.Searcher
	matcher       ImageMatcher
	conversations ConversationStore
	attribution   AttributionStore
	cfg           AssemblerConfig
}

// NewAssembler wires an assembler. matcher, conversations and attribution may be nil.
func NewAssembler(searcher domain.Searcher, matcher ImageMatcher, conversations ConversationStore, attribution AttributionStore, cfg AssemblerConfig) *Assembler {
	def := DefaultAssemblerConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.DistanceThreshold <= 0 {
		cfg.DistanceThreshold = def.DistanceThreshold
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	return &Assembler{searcher: searcher, matcher: matcher, conversations: conversations, attribution: attribution, cfg: cfg}
}

// Assemble never fails. Any retrieval or rendering problem yields the
// fallback prompt. The user's turn is persisted in both cases.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) AssembleResult {
	updated := req.History.Append(domain.Turn{Role: domain.RoleUser, Content: req.Message})

	res, err := a.assembleSafely(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("Prompt assembly failed, using fallback prompt")
		res = AssembleResult{Prompt: FallbackPrompt(req.Message, req.Language), Fallback: true}
		observability.RecordAssembly("fallback", 0, 0)
	}
	res.History = updated
	a.persist(req.UserID, updated)
	return res
}

func (a *Assembler) assembleSafely(ctx context.Context, req AssembleRequest) (res AssembleResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("prompt assembly panicked: %v", r)
		}
	}()
	return a.assemble(ctx, req)
}

func (a *Assembler) assemble(ctx context.Context, req AssembleRequest) (AssembleResult, error) {
	if a.searcher == nil {
		return AssembleResult{}, domain.ErrRetrievalUnavailable
	}
	chunks, err := a.searcher.Search(ctx, req.Message, a.cfg.TopK)
	if err != nil {
		return AssembleResult{}, fmt.Errorf("similarity search: %w", err)
	}

	passages, sources := a.accept(chunks)
	greeting := IsGreeting(req.Message)
	if greeting {
		// The greeting prompt carries no passages, so nothing is attributed.
		sources = nil
	}

	var images []domain.ImageMatch
	if a.matcher != nil {
		images = a.matcher.Match(req.Message, req.Language)
	}

	data := promptData{
		Persona:    persona,
		Language:   LanguageDirective(req.Language),
		Passages:   strings.Join(passages, "\n\n"),
		Sources:    strings.Join(uniqueFilenames(sources), ", "),
		Transcript: renderTranscript(req.History, a.cfg.HistoryWindow),
		Message:    req.Message,
	}

	var prompt string
	if greeting {
		prompt, err = renderGreeting(data)
	} else {
		prompt, err = renderGrounded(data)
	}
	if err != nil {
		return AssembleResult{}, fmt.Errorf("render prompt: %w", err)
	}

	// Records are written only once the prompt is final.
	a.recordSources(req.UserID, sources)
	a.recordImages(req.UserID, images)

	outcome := "grounded"
	switch {
	case greeting:
		outcome = "greeting"
	case len(passages) == 0:
		outcome = "general"
	}
	observability.RecordAssembly(outcome, len(passages), len(images))

	return AssembleResult{Prompt: prompt, Sources: sources, Images: images, Greeting: greeting}, nil
}

// accept keeps chunks strictly under the distance threshold, in retrieval
// order, and collects their distinct (filename, page) sources.
func (a *Assembler) accept(chunks []domain.RetrievedChunk) ([]string, []domain.Source) {
	var passages []string
	var sources []domain.Source
	seen := make(map[domain.Source]struct{})
	for _, ch := range chunks {
		if math.IsNaN(ch.Distance) || ch.Distance >= a.cfg.DistanceThreshold {
			continue
		}
		if text := strings.TrimSpace(ch.Content); text != "" {
			passages = append(passages, text)
		}
		name := ch.Metadata.Filename()
		if name == "" {
			continue
		}
		src := domain.Source{Filename: name, Page: ch.Metadata.ResolvePage()}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		sources = append(sources, src)
	}
	return passages, sources
}

func (a *Assembler) recordSources(userID string, sources []domain.Source) {
	if a.attribution == nil || userID == "" {
		return
	}
	if err := a.attribution.SaveSources(userID, sources); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to write sources record")
	}
}

func (a *Assembler) recordImages(userID string, images []domain.ImageMatch) {
	if a.attribution == nil || userID == "" {
		return
	}
	if err := a.attribution.SaveImages(userID, images); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to write images record")
	}
}

func (a *Assembler) persist(userID string, history domain.History) {
	if a.conversations == nil || userID == "" {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("user_id", userID).Msg("Conversation save panicked")
		}
	}()
	if err := a.conversations.Save(userID, history); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to save conversation")
	}
}

func uniqueFilenames(sources []domain.Source) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, s := range sources {
		if _, ok := seen[s.Filename]; ok {
			continue
		}
		seen[s.Filename] = struct{}{}
		names = append(names, s.Filename)
	}
	return names
}
