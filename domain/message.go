// Package domain contains core concepts of the chat system.
// This file defines message envelopes and the observed MessageEvent.
// Events are immutable once built.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the fixed transcript layout: YYYY-MM-DD HH:MM:SS.
const TimestampLayout = "2006-01-02 15:04:05"

// SelfMarker replaces the sender name on events produced by our own sends.
const SelfMarker = "self"

// Outbound is what the transport sends.
type Outbound struct {
	Receiver PeerID
	Content  string
}

// Inbound is what the transport delivers.
type Inbound struct {
	Sender  PeerID
	Content string
}

// MessageEvent represents a message observed by a participant, received or sent.
// Timestamp is the second-precision display form; At keeps full resolution.
type MessageEvent struct {
	ID        uuid.UUID
	Sender    string
	Receiver  string
	Content   string
	Timestamp string
	At        time.Time
}

func NewMessageEvent(sender, receiver, content string, at time.Time) MessageEvent {
	at = at.Local()
	return MessageEvent{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Timestamp: FormatTimestamp(at),
		At:        at,
	}
}

func FormatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

// lineBreaks keeps a multi-line content on one transcript line.
var lineBreaks = strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\n`)

// TranscriptLine renders the event as "[<ts>] <sender> -> <receiver>: <content>",
// line breaks in content written as a literal \n.
func (m MessageEvent) TranscriptLine() string {
	return fmt.Sprintf("[%s] %s -> %s: %s", m.Timestamp, m.Sender, m.Receiver, lineBreaks.Replace(m.Content))
}
