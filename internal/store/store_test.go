package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inboxforge/telegram-inbox/internal/poller"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "inbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msg(id int64, text string) poller.Message {
	return poller.Message{
		ID:     id,
		Date:   time.Unix(1700000000+id, 0),
		ChatID: 42,
		Text:   text,
	}
}

func TestDeliverAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(2, "old2"), msg(1, "old1")},
		Offset:   12,
	})
	require.NoError(t, err)

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "old2", messages[0].Text)
	require.Equal(t, "old1", messages[1].Text)

	offset, err := s.LoadOffset(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 12, offset)
}

func TestNewBatchIsPrepended(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(2, "old1"), msg(1, "old2")},
		Offset:   2,
	}))
	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(5, "m3"), msg(4, "m2"), msg(3, "m1")},
		Offset:   5,
	}))

	messages, err := s.List(ctx)
	require.NoError(t, err)

	texts := make([]string, 0, len(messages))
	for _, m := range messages {
		texts = append(texts, m.Text)
	}
	require.Equal(t, []string{"m3", "m2", "m1", "old1", "old2"}, texts)
}

func TestDeliverIgnoresDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(1, "once")},
		Offset:   1,
	}))
	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(1, "again")},
		Offset:   2,
	}))

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "once", messages[0].Text)

	offset, err := s.LoadOffset(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, offset)
}

func TestDeliverEmptyBatchStillSavesOffset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{Offset: 99}))

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, messages)

	offset, err := s.LoadOffset(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 99, offset)
}

func TestLoadOffsetWithoutCheckpoint(t *testing.T) {
	s := openTestStore(t)

	offset, err := s.LoadOffset(context.Background())
	require.NoError(t, err)
	require.Zero(t, offset)
}

func TestAttachmentsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := msg(1, "with file")
	m.Attachments = []poller.Attachment{{Name: "a.pdf", Path: "assets/inbox/a.pdf"}}

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{Messages: []poller.Message{m}, Offset: 1}))

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, []poller.Attachment{{Name: "a.pdf", Path: "assets/inbox/a.pdf"}}, messages[0].Attachments)
}

func TestSetChecked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(1, "a")},
		Offset:   1,
	}))

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.False(t, messages[0].Checked)

	require.NoError(t, s.SetChecked(ctx, messages[0].ID, true))

	messages, err = s.List(ctx)
	require.NoError(t, err)
	require.True(t, messages[0].Checked)

	require.ErrorIs(t, s.SetChecked(ctx, 9999, true), ErrNotFound)
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, poller.CycleResult{
		Messages: []poller.Message{msg(3, "c"), msg(2, "b"), msg(1, "a")},
		Offset:   3,
	}))

	messages, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	require.NoError(t, s.Remove(ctx, []int64{messages[0].ID, messages[2].ID}))
	require.NoError(t, s.Remove(ctx, nil))

	messages, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "b", messages[0].Text)
}
