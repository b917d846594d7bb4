package embedding

import "context"

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
// Dimension may be zero until the first Embed call for remote models.
type Embedder interface {
	Name() string
	Prepare(ctx context.Context, corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// IsZero reports whether v carries no signal, as for a query sharing no
// terms with the vocabulary.
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
