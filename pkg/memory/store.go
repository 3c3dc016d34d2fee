// Package memory defines the conversation memory contract.
//
// Memory records one row per completed voice exchange (what the user said and
// what the assistant replied) together with an embedding of the exchange text.
// Two retrieval paths feed the reply pipeline:
//
//   - Recent: the last N exchanges of a session, in chronological order, for
//     short-term prompt context.
//   - SearchSimilar: embedding-based recall across a session's history, for
//     surfacing older exchanges relevant to the current utterance.
//
// Implementations must be safe for concurrent use. Memory writes in the reply
// pipeline are best effort; a storage failure must never block a reply.
package memory

import (
	"context"
	"time"
)

// Exchange is one completed user/assistant turn pair.
type Exchange struct {
	// ID uniquely identifies this exchange (e.g., a UUID). Recording an
	// exchange with an existing ID replaces it.
	ID string

	// SessionID groups exchanges into one conversation.
	SessionID string

	// UserText is the transcribed user utterance.
	UserText string

	// ReplyText is the assistant's reply.
	ReplyText string

	// Embedding is the vector representation of the exchange text. Its
	// dimension must match the store configuration. May be nil when no
	// embeddings provider is configured; such exchanges are excluded from
	// similarity search but still returned by Recent.
	Embedding []float32

	// Timestamp is when the exchange completed.
	Timestamp time.Time
}

// SimilarExchange pairs a recalled exchange with its vector-space distance
// from the query embedding. Lower Distance means higher similarity.
type SimilarExchange struct {
	Exchange Exchange
	Distance float64
}

// Store is the abstraction over any conversation memory backend.
type Store interface {
	// RecordExchange upserts an exchange. ID and SessionID must be non-empty.
	RecordExchange(ctx context.Context, ex Exchange) error

	// Recent returns up to limit exchanges for sessionID, oldest first.
	// A limit of 0 applies an implementation default.
	// Returns an empty (non-nil) slice when the session has no history.
	Recent(ctx context.Context, sessionID string, limit int) ([]Exchange, error)

	// SearchSimilar returns the topK exchanges in sessionID whose embeddings
	// are closest to embedding, ordered by ascending distance. An empty
	// sessionID searches across all sessions.
	// Returns an empty (non-nil) slice when nothing matches.
	SearchSimilar(ctx context.Context, embedding []float32, topK int, sessionID string) ([]SimilarExchange, error)
}
