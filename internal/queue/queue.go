// Package queue implements the Queue Service (spec §4.7): a bounded
// per-chat FIFO of QueuedMessages, keyed chat:{chat_id}:queue.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatstreamd/internal/model"
	"chatstreamd/internal/streamkv"
)

// ErrQueueFull is returned by AddMessage at capacity (spec §4.7).
var ErrQueueFull = streamkv.ErrQueueFull

// ErrNotFound is returned when a message id is not present in the queue.
var ErrNotFound = errors.New("queue: message not found")

// Service is the Queue Service.
type Service struct {
	kv *streamkv.KV
}

// New builds a Queue Service over the shared streamkv handle.
func New(kv *streamkv.KV) *Service {
	return &Service{kv: kv}
}

// wireMessage is the JSON shape persisted per queue_items.payload, matching
// spec §6's "{id, content, model_id, permission_mode, thinking_mode?,
// queued_at, attachments?}".
type wireMessage struct {
	ID             string             `json:"id"`
	Content        string             `json:"content"`
	ModelID        string             `json:"model_id"`
	PermissionMode model.PermissionMode `json:"permission_mode"`
	ThinkingMode   string             `json:"thinking_mode,omitempty"`
	QueuedAt       time.Time          `json:"queued_at"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
}

func toWire(m model.QueuedMessage) wireMessage {
	return wireMessage{
		ID:             m.ID,
		Content:        m.Content,
		ModelID:        m.ModelID,
		PermissionMode: m.PermissionMode,
		ThinkingMode:   m.ThinkingMode,
		QueuedAt:       m.QueuedAt,
		Attachments:    m.Attachments,
	}
}

func fromWire(w wireMessage) model.QueuedMessage {
	return model.QueuedMessage{
		ID:             w.ID,
		Content:        w.Content,
		ModelID:        w.ModelID,
		PermissionMode: w.PermissionMode,
		ThinkingMode:   w.ThinkingMode,
		QueuedAt:       w.QueuedAt,
		Attachments:    w.Attachments,
	}
}

// AddMessage pushes a new QueuedMessage onto chatID's queue, generating an id
// if msg.ID is empty. Returns the pre-push length as position (spec §4.7).
func (s *Service) AddMessage(ctx context.Context, chatID string, msg model.QueuedMessage) (position int, id string, err error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.QueuedAt.IsZero() {
		msg.QueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(toWire(msg))
	if err != nil {
		return 0, "", fmt.Errorf("queue: marshal: %w", err)
	}
	position, err = s.kv.RPush(ctx, streamkv.QueueKey(chatID), msg.ID, string(raw))
	if err != nil {
		if errors.Is(err, streamkv.ErrQueueFull) {
			return 0, "", ErrQueueFull
		}
		return 0, "", err
	}
	return position, msg.ID, nil
}

// GetQueue returns chatID's queue in FIFO order.
func (s *Service) GetQueue(ctx context.Context, chatID string) ([]model.QueuedMessage, error) {
	items, err := s.kv.LRange(ctx, streamkv.QueueKey(chatID))
	if err != nil {
		return nil, err
	}
	out := make([]model.QueuedMessage, 0, len(items))
	for _, it := range items {
		var w wireMessage
		if err := json.Unmarshal([]byte(it.Payload), &w); err != nil {
			return nil, fmt.Errorf("queue: unmarshal item %s: %w", it.ItemID, err)
		}
		out = append(out, fromWire(w))
	}
	return out, nil
}

// UpdateMessage overwrites a queued message's content in place.
func (s *Service) UpdateMessage(ctx context.Context, chatID, messageID, content string) error {
	w, err := s.getWire(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	w.Content = content
	return s.putWire(ctx, chatID, w)
}

// AppendToMessage concatenates content with "\n" onto an existing queued
// message and merges attachments (spec §4.7).
func (s *Service) AppendToMessage(ctx context.Context, chatID, messageID, content string, attachments []model.Attachment) error {
	w, err := s.getWire(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(w.Content) != "" {
		w.Content = w.Content + "\n" + content
	} else {
		w.Content = content
	}
	w.Attachments = append(w.Attachments, attachments...)
	return s.putWire(ctx, chatID, w)
}

// RemoveMessage removes a specific queued message by id.
func (s *Service) RemoveMessage(ctx context.Context, chatID, messageID string) error {
	return s.kv.LRem(ctx, streamkv.QueueKey(chatID), messageID)
}

// PopNextMessage removes and returns the head of chatID's queue (LPOP), or
// (nil, nil) if the queue is empty.
func (s *Service) PopNextMessage(ctx context.Context, chatID string) (*model.QueuedMessage, error) {
	it, err := s.kv.LPop(ctx, streamkv.QueueKey(chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var w wireMessage
	if err := json.Unmarshal([]byte(it.Payload), &w); err != nil {
		return nil, fmt.Errorf("queue: unmarshal popped item: %w", err)
	}
	msg := fromWire(w)
	return &msg, nil
}

// HasMessages reports whether chatID's queue is non-empty.
func (s *Service) HasMessages(ctx context.Context, chatID string) (bool, error) {
	n, err := s.kv.Len(ctx, streamkv.QueueKey(chatID))
	return n > 0, err
}

func (s *Service) getWire(ctx context.Context, chatID, messageID string) (wireMessage, error) {
	items, err := s.kv.LRange(ctx, streamkv.QueueKey(chatID))
	if err != nil {
		return wireMessage{}, err
	}
	for _, it := range items {
		if it.ItemID == messageID {
			var w wireMessage
			if err := json.Unmarshal([]byte(it.Payload), &w); err != nil {
				return wireMessage{}, fmt.Errorf("queue: unmarshal item %s: %w", messageID, err)
			}
			return w, nil
		}
	}
	return wireMessage{}, ErrNotFound
}

func (s *Service) putWire(ctx context.Context, chatID string, w wireMessage) error {
	raw, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("queue: marshal: %w", err)
	}
	return s.kv.LSet(ctx, streamkv.QueueKey(chatID), w.ID, string(raw))
}
