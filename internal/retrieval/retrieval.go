// Package retrieval looks up knowledge-base passages for an inbound message.
// Lookups fail open: any error yields an empty result and a logged warning.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"replydraft/internal/model"
	"replydraft/internal/util"
)

// MaxSnippets caps the number of passages returned for one query.
const MaxSnippets = 5

// QueryBodyChars is how much of the body goes into the query text.
const QueryBodyChars = 500

// Embedder maps texts to vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Neighbor is one nearest-neighbor hit. Distance is in [0,2] for cosine.
type Neighbor struct {
	ID       string
	Distance float64
	Text     string
}

// Searcher returns the k nearest neighbors of vec.
type Searcher interface {
	Nearest(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
}

// Provider combines an embedder and a searcher. A Provider with no searcher
// is disabled and always returns nothing.
type Provider struct {
	embed  Embedder
	search Searcher
	log    zerolog.Logger
}

func New(embed Embedder, search Searcher, log zerolog.Logger) *Provider {
	return &Provider{
		embed:  embed,
		search: search,
		log:    log.With().Str("component", "retrieval").Logger(),
	}
}

// Enabled reports whether an index is configured.
func (p *Provider) Enabled() bool {
	return p != nil && p.search != nil && p.embed != nil
}

// Query builds the query text for a message: the subject followed by the
// start of the body.
func Query(msg model.Message) string {
	return strings.TrimSpace(msg.Subject() + " " + util.Truncate(msg.BodyText, QueryBodyChars))
}

// Retrieve returns at most MaxSnippets passages in descending relevance.
func (p *Provider) Retrieve(ctx context.Context, query string) []model.ContextSnippet {
	if !p.Enabled() || strings.TrimSpace(query) == "" {
		return nil
	}
	vecs, err := p.embed.Embed(ctx, []string{query})
	if err != nil {
		p.log.Warn().Err(err).Msg("embedding query failed; continuing without context")
		return nil
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		p.log.Warn().Int("vectors", len(vecs)).Msg("embedding returned no vectors; continuing without context")
		return nil
	}
	hits, err := p.search.Nearest(ctx, vecs[0], MaxSnippets)
	if err != nil {
		p.log.Warn().Err(err).Msg("neighbor lookup failed; continuing without context")
		return nil
	}
	out := make([]model.ContextSnippet, 0, len(hits))
	for _, h := range hits {
		out = append(out, model.ContextSnippet{
			ID:        h.ID,
			Relevance: Relevance(h.Distance),
			Text:      h.Text,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > MaxSnippets {
		out = out[:MaxSnippets]
	}
	p.log.Debug().Int("snippets", len(out)).Msg("retrieved context")
	return out
}

// Relevance converts a distance into a score in [0,1].
func Relevance(distance float64) float64 {
	r := 1 - distance
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
