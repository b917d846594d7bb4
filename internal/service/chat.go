package service

import (
	"context"
	"fmt"
	"time"

	"endochat/internal/domain"
	"endochat/internal/observability"
)

type ChatRequest struct {
	Message  string
	UserID   string
	Language domain.Language
	// History overrides the stored conversation when non-nil.
	History domain.History
}

type ChatReply struct {
	Response string
	History  domain.History
	Sources  []domain.Source
	Images   []domain.ImageMatch
	Fallback bool
}

// Chat runs one full turn: assemble, generate, finalize.
type Chat struct {
	assembler     *Assembler
	generator     domain.Generator
	finalizer     *Finalizer
	conversations ConversationStore
}

func NewChat(assembler *Assembler, generator domain.Generator, finalizer *Finalizer, conversations ConversationStore) *Chat {
	return &Chat{assembler: assembler, generator: generator, finalizer: finalizer, conversations: conversations}
}

// Reply fails only when generation fails. The user's turn is already
// persisted at that point.
func (c *Chat) Reply(ctx context.Context, req ChatRequest) (ChatReply, error) {
	history := req.History
	if history == nil && c.conversations != nil && req.UserID != "" {
		history = c.conversations.Load(req.UserID)
	}

	assembled := c.assembler.Assemble(ctx, AssembleRequest{
		Message:  req.Message,
		History:  history,
		UserID:   req.UserID,
		Language: req.Language,
	})

	start := time.Now()
	response, err := c.generator.Generate(ctx, assembled.Prompt)
	observability.RecordGeneration(time.Since(start), err == nil)
	if err != nil {
		return ChatReply{History: assembled.History, Fallback: assembled.Fallback}, fmt.Errorf("generate response: %w", err)
	}

	final := c.finalizer.finalize(assembled.History, response, req.UserID, !assembled.Fallback && !assembled.Greeting)
	return ChatReply{
		Response: final[len(final)-1].Content,
		History:  final,
		Sources:  assembled.Sources,
		Images:   assembled.Images,
		Fallback: assembled.Fallback,
	}, nil
}
