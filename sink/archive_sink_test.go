package sink_test

import (
	"context"
	"fmt"
	"peer-chat/domain"
	"peer-chat/mocks"
	"peer-chat/sink"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestArchiveSink_Append(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockITranscriptRepository(ctrl)
	evt := domain.NewMessageEvent("A", "self", "hello", time.Now())

	mockRepo.EXPECT().StoreMessage(evt).Return(nil).Times(1)
	req.NoError(sink.NewArchiveSink(mockRepo).Append(context.Background(), evt))

	mockRepo.EXPECT().StoreMessage(evt).Return(fmt.Errorf("badger closed")).Times(1)
	req.Error(sink.NewArchiveSink(mockRepo).Append(context.Background(), evt))
}
