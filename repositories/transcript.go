//go:generate go run go.uber.org/mock/mockgen -source=transcript.go -destination=../mocks/mock_transcript_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"peer-chat/domain"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type ITranscriptRepository interface {
	StoreMessage(evt domain.MessageEvent) error
	GetMessages(cursor *string) ([]domain.MessageEvent, *string, error)
}

type TranscriptRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	mu            sync.Mutex
	last          int64
}

func NewTranscriptRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *TranscriptRepository {
	return &TranscriptRepository{db: db, log: log, limitMessages: limitMessages}
}

// stamp orders keys by store order: events stored within the same
// nanosecond, or with a clock that stepped back, still sort after the
// previous one.
func (m *TranscriptRepository) stamp(at time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	nanos := at.UnixNano()
	if nanos <= m.last {
		nanos = m.last + 1
	}
	m.last = nanos
	return nanos
}

type diskMessage struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	At        int64  `json:"at"`
}

const messagePrefix = "msg:"

// StoreMessage persists an event in BadgerDB.
// The key is formatted as "msg:{stamp_padded}:{uuid}" where the 19-digit
// stamp is strictly increasing per repository, so lexicographical order is
// store order.
func (m *TranscriptRepository) StoreMessage(evt domain.MessageEvent) error {
	key := fmt.Sprintf("%s%019d:%s", messagePrefix, m.stamp(evt.At), evt.ID)
	bytes, err := json.Marshal(fromMessageEvent(evt))
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages returns a page of events, newest first, starting after cursor
// (or from the newest event when cursor is nil). The returned cursor points at
// the last event of the page.
func (m *TranscriptRepository) GetMessages(cursor *string) ([]domain.MessageEvent, *string, error) {
	var events []domain.MessageEvent
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append([]byte(messagePrefix), 0xFF)
		default:
			seekKey = append([]byte(messagePrefix), []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) && string(it.Item().Key()[len(prefix):]) == *cursor {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(events) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(value []byte) error {
				var dm diskMessage
				if err := json.Unmarshal(value, &dm); err != nil {
					return err
				}
				evt, err := toMessageEvent(dm)
				if err != nil {
					return err
				}
				events = append(events, evt)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(events) == 0 {
		return nil, nil, nil
	}
	return events, &lastKey, nil
}

func fromMessageEvent(evt domain.MessageEvent) diskMessage {
	return diskMessage{
		ID:        evt.ID.String(),
		Sender:    evt.Sender,
		Receiver:  evt.Receiver,
		Content:   evt.Content,
		Timestamp: evt.Timestamp,
		At:        evt.At.UnixNano(),
	}
}

func toMessageEvent(dm diskMessage) (domain.MessageEvent, error) {
	parsedID, err := uuid.Parse(dm.ID)
	if err != nil {
		return domain.MessageEvent{}, err
	}
	return domain.MessageEvent{
		ID:        parsedID,
		Sender:    dm.Sender,
		Receiver:  dm.Receiver,
		Content:   dm.Content,
		Timestamp: dm.Timestamp,
		At:        time.Unix(0, dm.At).Local(),
	}, nil
}
