package store

// Change-stream event kinds.
const (
	KindThreadInsert  = "change.thread.insert"
	KindThreadUpdate  = "change.thread.update"
	KindMessageInsert = "change.message.insert"
	KindMessageUpdate = "change.message.update"
)

// Operations carried in a Change.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// Change is the payload of a change-stream event. Exactly one of Thread or
// Message is set.
type Change struct {
	Op      string
	Thread  *Thread
	Message *Message
}
