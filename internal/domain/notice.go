package domain

import "github.com/bwmarrin/snowflake"

// NoticeKind identifies a message posted into a ticket channel.
type NoticeKind string

const (
	NoticeWelcome   NoticeKind = "welcome"
	NoticeClosed    NoticeKind = "closed"
	NoticeClaimed   NoticeKind = "claimed"
	NoticeUnclaimed NoticeKind = "unclaimed"
)

// Notice is rendered by the chat adapter; SubjectID is the creator for
// welcome/closed notices and the staff member for claim notices.
type Notice struct {
	Kind      NoticeKind
	TicketID  string
	SubjectID snowflake.ID
}
