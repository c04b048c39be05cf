package core

import (
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION - Current poll, live recommendation and trade threshold
// ═══════════════════════════════════════════════════════════════════════════════

// Session owns the mutable voting state shared by every front-end.
// All reads return copies.
type Session struct {
	mu             sync.RWMutex
	threshold      int
	recommendation *types.Recommendation
	poll           *types.Poll
}

// NewSession creates a session with the given trade threshold (minimum 1)
func NewSession(threshold int) *Session {
	if threshold <= 0 {
		threshold = 1
	}
	return &Session{threshold: threshold}
}

// SetTradeThreshold updates the minimum vote count. Non-positive values are
// rejected and the previous threshold is kept.
func (s *Session) SetTradeThreshold(threshold int) error {
	if threshold <= 0 {
		return ErrInvalidThreshold
	}

	s.mu.Lock()
	s.threshold = threshold
	s.mu.Unlock()

	log.Info().Int("threshold", threshold).Msg("🎚️ Trade threshold set")
	return nil
}

// TradeThreshold returns the current threshold
func (s *Session) TradeThreshold() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SetRecommendation overwrites the live recommendation
func (s *Session) SetRecommendation(pair, action string) error {
	a, err := types.ParseAction(action)
	if err != nil {
		return ErrInvalidAction
	}

	s.mu.Lock()
	s.recommendation = &types.Recommendation{Pair: strings.TrimSpace(pair), Action: a}
	s.mu.Unlock()
	return nil
}

// Recommendation returns the live recommendation, nil if none
func (s *Session) Recommendation() *types.Recommendation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.recommendation == nil {
		return nil
	}
	rec := *s.recommendation
	return &rec
}

// CurrentPoll returns the tracked poll, nil if none
func (s *Session) CurrentPoll() *types.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.poll == nil {
		return nil
	}
	p := *s.poll
	return &p
}

// track replaces the tracked poll and, when rec is set, the recommendation in
// one step so a vote can never see the new poll with the old recommendation.
func (s *Session) track(p types.Poll, rec *types.Recommendation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poll != nil && !s.poll.Closed() {
		log.Warn().Str("poll_id", s.poll.PollID).Msg("Abandoning tracking of unresolved poll")
	}
	s.poll = &p
	if rec != nil {
		r := *rec
		s.recommendation = &r
	}
}

// tally applies a vote update to the tracked poll. When the threshold is met
// the poll is claimed (open → threshold_reached) and decided is true; only
// one caller can ever claim a given poll.
func (s *Session) tally(upd types.PollUpdate) (poll types.Poll, matched, decided bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poll == nil || s.poll.PollID != upd.PollID {
		return types.Poll{}, false, false
	}
	if s.poll.State != types.PollStateOpen {
		return *s.poll, true, false
	}

	s.poll.YesCount = upd.Tally.Yes
	s.poll.NoCount = upd.Tally.No

	if upd.Tally.Total() < s.threshold {
		return *s.poll, true, false
	}

	s.poll.State = types.PollStateThresholdReached
	return *s.poll, true, true
}

// setState moves the tracked poll to state if it is still pollID
func (s *Session) setState(pollID string, state types.PollState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poll != nil && s.poll.PollID == pollID {
		s.poll.State = state
	}
}

// claim moves the tracked poll from open to threshold_reached. It fails if
// the poll was replaced or someone else already claimed it.
func (s *Session) claim(pollID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.poll == nil || s.poll.PollID != pollID || s.poll.State != types.PollStateOpen {
		return false
	}
	s.poll.State = types.PollStateThresholdReached
	return true
}
