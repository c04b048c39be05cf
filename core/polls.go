package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLL LIFECYCLE - Publish and stop the tracked poll
// ═══════════════════════════════════════════════════════════════════════════════

// Messenger is the messaging platform the polls and notices go through
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	SendPoll(ctx context.Context, chatID int64, question string, options []string, anonymous bool) (pollID string, messageID int, err error)
	StopPoll(ctx context.Context, chatID int64, messageID int) (types.Tally, error)
}

// PollJournal persists poll history
type PollJournal interface {
	PollOpened(p types.Poll) error
	PollResolved(p types.Poll, result string) error
}

// PollManager creates and closes polls and records the current one in the session
type PollManager struct {
	messenger Messenger
	session   *Session
	journal   PollJournal
	anonymous bool
}

// NewPollManager creates a poll manager. journal may be nil.
func NewPollManager(messenger Messenger, session *Session, journal PollJournal, anonymous bool) *PollManager {
	return &PollManager{
		messenger: messenger,
		session:   session,
		journal:   journal,
		anonymous: anonymous,
	}
}

// Create publishes a two-option poll and tracks it as current. When rec is
// non-nil it becomes the live recommendation together with the poll.
func (m *PollManager) Create(ctx context.Context, channelID int64, question string, options []string, rec *types.Recommendation) (types.Poll, error) {
	if len(options) != 2 {
		return types.Poll{}, fmt.Errorf("%w: need exactly two options, got %d", ErrPollCreationFailed, len(options))
	}

	pollID, messageID, err := m.messenger.SendPoll(ctx, channelID, question, options, m.anonymous)
	if err != nil {
		log.Error().Err(err).Int64("channel", channelID).Msg("Failed to create poll")
		return types.Poll{}, fmt.Errorf("%w: %v", ErrPollCreationFailed, err)
	}

	poll := types.Poll{
		PollID:    pollID,
		MessageID: messageID,
		ChannelID: channelID,
		Question:  question,
		State:     types.PollStateOpen,
		CreatedAt: time.Now(),
	}
	if rec != nil {
		poll.Pair = rec.Pair
		poll.Action = rec.Action
	}

	m.session.track(poll, rec)

	if m.journal != nil {
		if err := m.journal.PollOpened(poll); err != nil {
			log.Warn().Err(err).Str("poll_id", pollID).Msg("Failed to persist poll")
		}
	}

	log.Info().
		Str("poll_id", pollID).
		Int("message_id", messageID).
		Str("question", question).
		Msg("🗳️ Poll created")

	return poll, nil
}

// Close stops the poll message. Errors from the platform, including a
// double close, are returned as-is.
func (m *PollManager) Close(ctx context.Context, channelID int64, messageID int) (types.Tally, error) {
	tally, err := m.messenger.StopPoll(ctx, channelID, messageID)
	if err != nil {
		return types.Tally{}, fmt.Errorf("stop poll %d: %w", messageID, err)
	}

	log.Info().
		Int("message_id", messageID).
		Int("yes", tally.Yes).
		Int("no", tally.No).
		Msg("🔒 Poll closed")

	return tally, nil
}

func (m *PollManager) resolved(p types.Poll, result string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.PollResolved(p, result); err != nil {
		log.Warn().Err(err).Str("poll_id", p.PollID).Msg("Failed to persist poll result")
	}
}
