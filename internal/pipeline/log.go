package pipeline

import (
	"strings"

	"github.com/omochice/market-chat/pkg/protocol"
)

// Log is the ordered message view of one conversation: the history
// baseline in given order, then later messages by local arrival.
//
// Confirmed entries are unique by ID. Pending entries are local-optimistic
// and keyed by LocalKey until the ack or a push confirms them.
type Log struct {
	msgs []protocol.Message
}

// Reset replaces the log with a baseline.
func (l *Log) Reset(baseline []protocol.Message) {
	l.msgs = l.msgs[:0]
	for _, m := range baseline {
		m.Origin = protocol.OriginConfirmed
		m.LocalKey = ""
		if m.ID != "" && l.indexByID(m.ID) >= 0 {
			continue
		}
		l.msgs = append(l.msgs, m)
	}
}

// Clear drops every message.
func (l *Log) Clear() {
	l.msgs = nil
}

// AppendPending adds a local-optimistic message.
func (l *Log) AppendPending(m protocol.Message) {
	m.Origin = protocol.OriginLocalOptimistic
	m.ID = ""
	l.msgs = append(l.msgs, m)
}

// RemovePending drops the pending entry of a failed send.
func (l *Log) RemovePending(localKey string) bool {
	i := l.indexByKey(localKey)
	if i < 0 {
		return false
	}
	l.msgs = append(l.msgs[:i], l.msgs[i+1:]...)
	return true
}

// Ack applies the response of a successful send. If the server id is
// already present the pending entry collapses into it; otherwise the
// pending entry is promoted in place, or the message appended when the
// pending entry is gone.
func (l *Log) Ack(localKey string, m protocol.Message) {
	m.Origin = protocol.OriginConfirmed
	m.LocalKey = ""

	pending := l.indexByKey(localKey)
	if m.ID != "" && l.indexByID(m.ID) >= 0 {
		if pending >= 0 {
			l.msgs = append(l.msgs[:pending], l.msgs[pending+1:]...)
		}
		return
	}
	if pending >= 0 {
		l.msgs[pending] = m
		return
	}
	l.msgs = append(l.msgs, m)
}

// Push applies a pushed message. A known id is replaced in place. A push
// from participantID with an unknown id supersedes the oldest matching
// pending entry in place. Anything else is appended.
func (l *Log) Push(m protocol.Message, participantID string) {
	m.Origin = protocol.OriginConfirmed
	m.LocalKey = ""

	if m.ID != "" {
		if i := l.indexByID(m.ID); i >= 0 {
			l.msgs[i] = m
			return
		}
	}
	if m.IsMine(participantID) {
		if i := l.oldestPendingMatch(m); i >= 0 {
			l.msgs[i] = m
			return
		}
	}
	l.msgs = append(l.msgs, m)
}

// Messages returns a copy of the log.
func (l *Log) Messages() []protocol.Message {
	return append([]protocol.Message(nil), l.msgs...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.msgs)
}

// Pending counts local-optimistic entries.
func (l *Log) Pending() int {
	n := 0
	for _, m := range l.msgs {
		if m.Origin == protocol.OriginLocalOptimistic {
			n++
		}
	}
	return n
}

func (l *Log) indexByID(id string) int {
	for i, m := range l.msgs {
		if m.Origin == protocol.OriginConfirmed && m.ID == id {
			return i
		}
	}
	return -1
}

func (l *Log) indexByKey(key string) int {
	if key == "" {
		return -1
	}
	for i, m := range l.msgs {
		if m.Origin == protocol.OriginLocalOptimistic && m.LocalKey == key {
			return i
		}
	}
	return -1
}

func (l *Log) oldestPendingMatch(m protocol.Message) int {
	content := strings.TrimSpace(m.Content)
	hasImage := m.Image != ""
	for i, p := range l.msgs {
		if p.Origin != protocol.OriginLocalOptimistic {
			continue
		}
		if strings.TrimSpace(p.Content) == content && (p.Image != "") == hasImage {
			return i
		}
	}
	return -1
}
