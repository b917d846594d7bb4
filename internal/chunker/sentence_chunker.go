package chunker

import (
	"regexp"
	"strconv"
	"strings"

	"endochat/internal/domain"
)

var sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SentenceChunker splits text into sentence-based chunks with overlap.
// Every chunk inherits the provenance (source, page) of its document.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
	}
}

func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	content := document.Content
	locs := sentencePattern.FindAllStringIndex(content, -1)
	sentences := make([]string, 0, len(locs)+1)
	consumed := 0
	for _, loc := range locs {
		sentences = append(sentences, content[loc[0]:loc[1]])
		consumed = loc[1]
	}
	// Text after the last terminator is a sentence too.
	if tail := strings.TrimSpace(content[consumed:]); tail != "" {
		sentences = append(sentences, tail)
	}
	if len(sentences) == 0 {
		return nil, nil
	}
	for i := range sentences {
		sentences[i] = strings.Join(strings.Fields(sentences[i]), " ")
	}

	var chunks []domain.Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Text:       strings.Join(sentences[i:end], " "),
			Index:      idx,
			Source:     document.Source,
			Page:       document.Page,
			PageLabel:  document.PageLabel,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks, nil
}
