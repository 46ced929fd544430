package sink

import (
	"context"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/repositories"
)

var _ contract.TranscriptSink = ArchiveSink{}

// ArchiveSink stores events in the badger archive read back by /history.
type ArchiveSink struct {
	repository repositories.ITranscriptRepository
}

func NewArchiveSink(repository repositories.ITranscriptRepository) ArchiveSink {
	return ArchiveSink{repository: repository}
}

func (a ArchiveSink) Name() string { return "archive" }

func (a ArchiveSink) Append(_ context.Context, evt domain.MessageEvent) error {
	return a.repository.StoreMessage(evt)
}
