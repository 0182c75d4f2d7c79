package model

import (
	"strings"
	"time"
)

// Flag is a mailbox state marker on a message. Gmail system labels map onto
// these directly; PROCESSED is backed by a user label.
type Flag string

const (
	FlagInbox     Flag = "INBOX"
	FlagUnread    Flag = "UNREAD"
	FlagDraft     Flag = "DRAFT"
	FlagSent      Flag = "SENT"
	FlagProcessed Flag = "PROCESSED"
)

// Notification is a push event telling us that an account's mailbox changed.
// Exactly one of MessageRef or Cursor is expected.
type Notification struct {
	AccountID  string
	MessageRef string
	Cursor     uint64
	Attributes map[string]string
}

// HasReference reports whether the notification carries anything to resolve.
func (n Notification) HasReference() bool {
	return n.MessageRef != "" || n.Cursor != 0
}

// Message is a fully fetched mailbox message.
type Message struct {
	ID       string
	ThreadID string
	Flags    map[Flag]bool
	Headers  map[string]string // keys lowercased
	BodyText string
	Snippet  string
}

func (m Message) Has(f Flag) bool { return m.Flags[f] }

// Header returns a header value by case-insensitive name.
func (m Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

func (m Message) Subject() string { return m.Header("Subject") }
func (m Message) From() string    { return m.Header("From") }
func (m Message) To() string      { return m.Header("To") }

// Part is one node of a MIME tree. BodyData holds the decoded body of leaves.
type Part struct {
	MimeType string
	BodyData string
	Children []Part
}

// ContextSnippet is a knowledge-base passage returned for a query.
// Relevance is 1 - distance, clamped to [0,1], and only comparable
// within a single query.
type ContextSnippet struct {
	ID        string
	Relevance float64
	Text      string
}

// Draft is a reply ready to be written to the mailbox.
type Draft struct {
	DraftID  string
	ThreadID string
	MIME     []byte
}

// IndexedChunk is a unit of the knowledge base.
type IndexedChunk struct {
	ChunkID    string
	SourceFile string
	Text       string
	Embedding  []float32
}

// WatchRegistration describes an active push subscription for one mailbox.
// Gmail expires registrations, so they have to be renewed before Expiration.
type WatchRegistration struct {
	Account    string
	Topic      string
	HistoryID  uint64
	Expiration time.Time
	// PreviousCursor is the ledger cursor before this registration, 0 if none.
	PreviousCursor uint64
}
