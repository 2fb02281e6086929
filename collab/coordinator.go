package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notion-collab/core"
	"notion-collab/metrics"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("notion-collab/collab")

// ContentCoordinator validates, persists and fans out content updates.
type ContentCoordinator struct {
	registry *RoomRegistry
	docs     core.DocumentStore
	access   *AccessAuthority
}

func NewContentCoordinator(registry *RoomRegistry, docs core.DocumentStore, access *AccessAuthority) *ContentCoordinator {
	return &ContentCoordinator{registry: registry, docs: docs, access: access}
}

// SubmitUpdate persists content for documentID and forwards it to every
// other member of the room. Nothing is broadcast unless the store accepted
// the write.
func (c *ContentCoordinator) SubmitUpdate(ctx context.Context, s *Session, documentID, content string, title *string) (err error) {
	ctx, span := tracer.Start(ctx, "collab.SubmitUpdate", trace.WithAttributes(
		attribute.String("document.id", documentID),
		attribute.String("user.id", s.Identity.UserID),
		attribute.Int("content.length", len(content)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCode(err))
		}
		span.End()
	}()

	if !s.InRoom(documentID) {
		return ErrNotJoined
	}

	ok, err := c.access.CanWrite(ctx, s.Identity.UserID, documentID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}

	return c.registry.withRoom(documentID, func(r *Room) error {
		if !r.has(s) {
			return ErrNotJoined
		}

		start := time.Now()
		doc, err := c.docs.UpdateDocument(ctx, documentID, core.DocumentUpdate{Content: content, Title: title})
		metrics.PersistLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"session_id":  s.ID,
				"document_id": documentID,
				"error":       err,
			}).Error("Failed to persist document update")
			if errors.Is(err, core.ErrNotFound) {
				return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
			}
			return fmt.Errorf("%w: %v", ErrPersistFailed, err)
		}

		ev := ContentUpdated{DocumentID: documentID, Content: content, PresenceEntry: entryOf(s.Identity)}
		if doc != nil {
			ev.Content = doc.Content
			ev.Title = doc.Title
		} else if title != nil {
			ev.Title = *title
		}
		r.broadcast(Event{Name: EventContentUpdated, Payload: ev}, s)

		logrus.WithFields(logrus.Fields{
			"session_id":  s.ID,
			"document_id": documentID,
			"peers":       len(r.members) - 1,
		}).Debug("Broadcast content update")
		return nil
	})
}

// RelayCursor forwards a cursor position to the other members. Cursor
// moves are not persisted and need no write access.
func (c *ContentCoordinator) RelayCursor(s *Session, documentID string, position json.RawMessage) error {
	if len(position) == 0 {
		return badRequest("position is required")
	}
	return c.registry.withRoom(documentID, func(r *Room) error {
		if !r.has(s) {
			return ErrNotJoined
		}
		r.broadcast(Event{
			Name: EventCursorMoved,
			Payload: CursorMoved{
				DocumentID:    documentID,
				Position:      position,
				PresenceEntry: entryOf(s.Identity),
			},
		}, s)
		return nil
	})
}
