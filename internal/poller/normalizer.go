package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/inboxforge/telegram-inbox/internal/telegram"
)

// AttachmentFetcher turns a document descriptor into durable attachment
// references. Failures are message-scoped: the normalizer degrades to a
// text-only message instead of dropping it.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, doc telegram.Document) ([]Attachment, error)
}

// Normalizer decides per update whether it is an actionable message and
// converts it to the delivery shape.
type Normalizer struct {
	authorizedUser string
	fetcher        AttachmentFetcher
	logger         *slog.Logger
}

// NewNormalizer creates a Normalizer. An empty authorizedUser accepts
// messages from any sender.
func NewNormalizer(authorizedUser string, fetcher AttachmentFetcher, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		authorizedUser: authorizedUser,
		fetcher:        fetcher,
		logger:         logger,
	}
}

// Normalize converts one raw update. The second return value is false
// when the update carries nothing deliverable: no message payload, no
// text and no document, a sender the filter rejects, or an attachment
// failure that left the message empty.
func (n *Normalizer) Normalize(ctx context.Context, u telegram.Update) (Message, bool) {
	msg := u.Message
	if msg == nil {
		return Message{}, false
	}

	// Document messages carry their text in the caption field.
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" && msg.Document == nil {
		return Message{}, false
	}

	if n.authorizedUser != "" {
		if msg.From == nil || msg.From.Username == "" {
			n.logger.Warn("ignoring message without sender identity", "update_id", u.UpdateID)
			return Message{}, false
		}
		if msg.From.Username != n.authorizedUser {
			n.logger.Warn("ignoring message, user not authorized",
				"update_id", u.UpdateID,
				"username", msg.From.Username,
			)
			return Message{}, false
		}
	}

	var attachments []Attachment
	if msg.Document != nil && n.fetcher != nil {
		refs, err := n.fetcher.Fetch(ctx, *msg.Document)
		if err != nil {
			n.logger.Error("attachment fetch failed, keeping message without it",
				"update_id", u.UpdateID,
				"file_id", msg.Document.FileID,
				"error", err,
			)
		} else {
			attachments = refs
		}
	}

	if text == "" && len(attachments) == 0 {
		return Message{}, false
	}

	return Message{
		ID:          msg.MessageID,
		Date:        time.Unix(msg.Date, 0),
		ChatID:      msg.Chat.ID,
		Text:        text,
		Attachments: attachments,
	}, true
}
