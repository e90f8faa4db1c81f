package poller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inboxforge/telegram-inbox/internal/telegram"
)

type stubFetcher struct {
	refs []Attachment
	err  error
}

func (s stubFetcher) Fetch(ctx context.Context, doc telegram.Document) ([]Attachment, error) {
	return s.refs, s.err
}

func TestNormalizeSkipsUpdateWithoutMessage(t *testing.T) {
	n := NewNormalizer("", nil, testLogger())

	_, ok := n.Normalize(context.Background(), telegram.Update{UpdateID: 1})
	require.False(t, ok)

	// Channel posts are not actionable messages.
	_, ok = n.Normalize(context.Background(), telegram.Update{
		UpdateID:    2,
		ChannelPost: &telegram.Message{MessageID: 1, Date: 1700000000, Text: "broadcast"},
	})
	require.False(t, ok)
}

func TestNormalizeSkipsEmptyMessage(t *testing.T) {
	n := NewNormalizer("", nil, testLogger())

	_, ok := n.Normalize(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			Date:      1700000000,
			From:      &telegram.User{Username: "alice"},
			Chat:      telegram.Chat{ID: 1},
		},
	})
	require.False(t, ok)
}

func TestNormalizeTextOnlyMessage(t *testing.T) {
	n := NewNormalizer("", nil, testLogger())

	m, ok := n.Normalize(context.Background(), textUpdate(1, 10, "alice", "hello"))
	require.True(t, ok)
	require.EqualValues(t, 10, m.ID)
	require.EqualValues(t, 42, m.ChatID)
	require.Equal(t, "hello", m.Text)
	require.Empty(t, m.Attachments)
}

func TestNormalizeAuthorizedSenderFilter(t *testing.T) {
	n := NewNormalizer("alice", nil, testLogger())

	_, ok := n.Normalize(context.Background(), textUpdate(1, 1, "bob", "hi"))
	require.False(t, ok)

	// Sender identity is required to decide authorization.
	_, ok = n.Normalize(context.Background(), telegram.Update{
		UpdateID: 2,
		Message: &telegram.Message{
			MessageID: 2,
			Date:      1700000000,
			Text:      "anonymous",
			Chat:      telegram.Chat{ID: 1},
		},
	})
	require.False(t, ok)

	m, ok := n.Normalize(context.Background(), textUpdate(3, 3, "alice", "mine"))
	require.True(t, ok)
	require.Equal(t, "mine", m.Text)
}

func TestNormalizeNoFilterAcceptsAnonymousSender(t *testing.T) {
	n := NewNormalizer("", nil, testLogger())

	m, ok := n.Normalize(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			Date:      1700000000,
			Text:      "no sender field",
			Chat:      telegram.Chat{ID: 1},
		},
	})
	require.True(t, ok)
	require.Equal(t, "no sender field", m.Text)
}

func TestNormalizeDocumentWithCaption(t *testing.T) {
	n := NewNormalizer("", stubFetcher{refs: []Attachment{{Name: "a.pdf", Path: "assets/a.pdf"}}}, testLogger())

	m, ok := n.Normalize(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			Date:      1700000000,
			Caption:   "see attached",
			From:      &telegram.User{Username: "alice"},
			Chat:      telegram.Chat{ID: 1},
			Document:  &telegram.Document{FileID: "f1", FileName: "a.pdf"},
		},
	})
	require.True(t, ok)
	require.Equal(t, "see attached", m.Text)
	require.Equal(t, []Attachment{{Name: "a.pdf", Path: "assets/a.pdf"}}, m.Attachments)
}

func TestNormalizeDocumentFetchFailureDegrades(t *testing.T) {
	n := NewNormalizer("", stubFetcher{err: context.DeadlineExceeded}, testLogger())

	m, ok := n.Normalize(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			Date:      1700000000,
			Text:      "still useful",
			From:      &telegram.User{Username: "alice"},
			Chat:      telegram.Chat{ID: 1},
			Document:  &telegram.Document{FileID: "f1"},
		},
	})
	require.True(t, ok)
	require.Equal(t, "still useful", m.Text)
	require.Empty(t, m.Attachments)
}

func TestNormalizeSkipsWhenNothingSurvives(t *testing.T) {
	// Attachment failed and there is no text: nothing left to deliver.
	n := NewNormalizer("", stubFetcher{err: context.DeadlineExceeded}, testLogger())

	_, ok := n.Normalize(context.Background(), telegram.Update{
		UpdateID: 1,
		Message: &telegram.Message{
			MessageID: 1,
			Date:      1700000000,
			From:      &telegram.User{Username: "alice"},
			Chat:      telegram.Chat{ID: 1},
			Document:  &telegram.Document{FileID: "f1"},
		},
	})
	require.False(t, ok)
}
