package core

import "context"

// AIProvider is the language model collaborator used by the LLM intent tier,
// the semantic entity pass and conversation summaries.
type AIProvider interface {
	Chat(ctx context.Context, history []Message) (Message, error)
}

// EntitySearcher is the external embedding and vector search collaborator.
type EntitySearcher interface {
	SearchEntities(ctx context.Context, query string, limit int) ([]SemanticHit, error)
	IndexEntity(ctx context.Context, e Entity) error
}

// EventSink receives every event the pipeline emits.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}
