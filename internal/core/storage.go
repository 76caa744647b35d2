package core

import (
	"context"
	"time"
)

type ConversationRepository interface {
	// SaveConversation writes the conversation, its utterances in arrival order,
	// its mentions and any review items in one transaction.
	SaveConversation(ctx context.Context, conv *Conversation, resolutions []Resolution) error
	RecentConversations(ctx context.Context, since time.Time, limit int) ([]Conversation, error)
	SearchUtterances(ctx context.Context, query string, limit int) ([]UtteranceHit, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SpeakerRepository interface {
	GetSpeaker(ctx context.Context, id string) (Speaker, error)
	ListSpeakers(ctx context.Context) ([]Speaker, error)
	EnsureSpeaker(ctx context.Context, s Speaker) error
	AddStats(ctx context.Context, id string, words, segments int, seen time.Time) error
	SetDisplayName(ctx context.Context, id, name string) error
	SetApproved(ctx context.Context, id string, approved bool) error
}

type ContactRepository interface {
	ListContacts(ctx context.Context) ([]Contact, error)
	SaveContact(ctx context.Context, c Contact) error
}

type EntityRepository interface {
	LoadEntities(ctx context.Context) ([]Entity, error)
	UpsertEntities(ctx context.Context, entities []Entity) error
	ListReview(ctx context.Context, limit int) ([]ReviewItem, error)
	GetReview(ctx context.Context, id int64) (ReviewItem, error)
	CloseReview(ctx context.Context, id int64, entityID string) error
}

type RelationshipRepository interface {
	LoadRelationships(ctx context.Context) ([]Relationship, error)
	UpsertRelationships(ctx context.Context, rels []Relationship) error
	ApplyDecay(ctx context.Context, updated []Relationship, deleted []EdgeKey) error
}

type ActionRepository interface {
	SaveAction(ctx context.Context, req ActionRequest) error
	ListActions(ctx context.Context, status string, limit int) ([]ActionRequest, error)
}
