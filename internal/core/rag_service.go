package core

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/anglersden/fishing-assistant/internal/store"
	"github.com/anglersden/fishing-assistant/internal/utils"
)

const (
	maxHighlightedDocs = 3
	relevanceThreshold = 0.55
)

// RetrievalRanker scores knowledge documents against the current question
// using embeddings of their title+description, so the prompt can highlight
// the most relevant reference material. The provider-side vector store still
// grounds the polled assistant path; this ranker covers the streaming path,
// where the provider offers no retrieval tool.
type RetrievalRanker struct {
	gateway Gateway
	logger  *zap.Logger
}

func NewRetrievalRanker(gateway Gateway, logger *zap.Logger) *RetrievalRanker {
	return &RetrievalRanker{gateway: gateway, logger: logger}
}

type scoredDocument struct {
	doc   store.KnowledgeDocument
	score float32
}

// Rank returns up to maxHighlightedDocs documents most relevant to the query,
// best first. Documents without a stored embedding are skipped. Any failure
// degrades to an empty result; a chat turn never fails on ranking.
func (r *RetrievalRanker) Rank(ctx context.Context, query string, docs []store.KnowledgeDocument) []store.KnowledgeDocument {
	if len(docs) == 0 {
		return nil
	}

	queryEmbedding, err := r.gateway.CreateEmbedding(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, skipping document ranking", zap.Error(err))
		return nil
	}

	scored := make([]scoredDocument, 0, len(docs))
	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			continue
		}
		score, err := utils.CosineSimilarity(queryEmbedding, doc.Embedding)
		if err != nil {
			r.logger.Warn("similarity computation failed",
				zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		if score >= relevanceThreshold {
			scored = append(scored, scoredDocument{doc: doc, score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	n := len(scored)
	if n > maxHighlightedDocs {
		n = maxHighlightedDocs
	}
	out := make([]store.KnowledgeDocument, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, scored[i].doc)
	}
	return out
}
