package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/merklemind/types"
)

const testChannel int64 = -100123

type fakeMessenger struct {
	mu       sync.Mutex
	messages []string
	polls    []string
	stops    []int
	nextPoll int

	pollErr error
	stopErr error
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return len(f.messages), nil
}

func (f *fakeMessenger) SendPoll(_ context.Context, _ int64, question string, _ []string, _ bool) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return "", 0, f.pollErr
	}
	f.nextPoll++
	f.polls = append(f.polls, question)
	return fmt.Sprintf("poll-%d", f.nextPoll), 100 + f.nextPoll, nil
}

func (f *fakeMessenger) StopPoll(_ context.Context, _ int64, messageID int) (types.Tally, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return types.Tally{}, f.stopErr
	}
	f.stops = append(f.stops, messageID)
	return types.Tally{}, nil
}

func (f *fakeMessenger) calls() (messages []string, stops []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...), append([]int(nil), f.stops...)
}

type fakeExecutor struct {
	mu   sync.Mutex
	recs []*types.Recommendation
}

func (f *fakeExecutor) ExecuteTrade(_ context.Context, rec *types.Recommendation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

type fakeJournal struct {
	mu         sync.Mutex
	opened     []types.Poll
	results    []string
	deposits   int
	depositErr error
}

func (j *fakeJournal) PollOpened(p types.Poll) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.opened = append(j.opened, p)
	return nil
}

func (j *fakeJournal) PollResolved(_ types.Poll, result string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = append(j.results, result)
	return nil
}

func (j *fakeJournal) DepositRecorded(int64, decimal.Decimal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.depositErr != nil {
		return j.depositErr
	}
	j.deposits++
	return nil
}

func newTestEngine(threshold int) (*Engine, *fakeMessenger, *fakeExecutor, *fakeJournal) {
	msgr := &fakeMessenger{}
	exec := &fakeExecutor{}
	journal := &fakeJournal{}
	session := NewSession(threshold)
	polls := NewPollManager(msgr, session, journal, true)
	return NewEngine(session, polls, msgr, exec, testChannel), msgr, exec, journal
}

// ═══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ═══════════════════════════════════════════════════════════════════════════════

func TestLedgerRejectsNonPositive(t *testing.T) {
	l := NewLedger(nil)
	_, err := l.RecordDeposit(1, decimal.NewFromInt(10))
	require.NoError(t, err)

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5), decimal.RequireFromString("-0.01")} {
		_, err := l.RecordDeposit(1, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}

	assert.True(t, l.Balance(1).Equal(decimal.NewFromInt(10)))
	assert.True(t, l.Total().Equal(decimal.NewFromInt(10)))
}

func TestLedgerAccumulates(t *testing.T) {
	journal := &fakeJournal{}
	l := NewLedger(journal)

	amounts := []string{"10", "2.5", "0.25"}
	var total decimal.Decimal
	for _, a := range amounts {
		var err error
		total, err = l.RecordDeposit(7, decimal.RequireFromString(a))
		require.NoError(t, err)
	}
	_, err := l.RecordDeposit(7, decimal.Zero)
	require.Error(t, err)

	got, err := l.RecordDeposit(8, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.Equal(t, "12.75", total.String())
	assert.Equal(t, "12.75", l.Balance(7).String())
	assert.Equal(t, "13.75", got.String())
	assert.Equal(t, 4, journal.deposits)
}

func TestLedgerJournalFailureLeavesBalanceUnchanged(t *testing.T) {
	journal := &fakeJournal{}
	l := NewLedger(journal)
	_, err := l.RecordDeposit(7, decimal.NewFromInt(10))
	require.NoError(t, err)

	journal.depositErr = errors.New("disk full")
	_, err = l.RecordDeposit(7, decimal.NewFromInt(5))
	require.ErrorIs(t, err, journal.depositErr)

	assert.Equal(t, "10", l.Balance(7).String())
	assert.Equal(t, "10", l.Total().String())
	assert.Equal(t, 1, journal.deposits)
}

func TestLedgerRestore(t *testing.T) {
	l := NewLedger(nil)
	l.Restore(map[int64]decimal.Decimal{1: decimal.NewFromInt(3), 2: decimal.NewFromInt(4)})

	total, err := l.RecordDeposit(1, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "8", total.String())
	assert.Equal(t, "4", l.Balance(1).String())
}

func TestLedgerConcurrentDeposits(t *testing.T) {
	l := NewLedger(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, _ = l.RecordDeposit(user%5, decimal.NewFromInt(2))
		}(int64(i))
	}
	wg.Wait()
	assert.Equal(t, "100", l.Total().String())
}

// ═══════════════════════════════════════════════════════════════════════════════
// SESSION
// ═══════════════════════════════════════════════════════════════════════════════

func TestThresholdRejectsNonPositive(t *testing.T) {
	s := NewSession(3)
	for _, v := range []int{0, -1, -100} {
		assert.ErrorIs(t, s.SetTradeThreshold(v), ErrInvalidThreshold)
		assert.Equal(t, 3, s.TradeThreshold())
	}
	require.NoError(t, s.SetTradeThreshold(4))
	assert.Equal(t, 4, s.TradeThreshold())
}

func TestRecommendation(t *testing.T) {
	s := NewSession(1)
	assert.Nil(t, s.Recommendation())

	assert.ErrorIs(t, s.SetRecommendation("BTC_USD", "hold"), ErrInvalidAction)
	assert.Nil(t, s.Recommendation())

	require.NoError(t, s.SetRecommendation("BTC_USD", "LONG"))
	require.NoError(t, s.SetRecommendation("ETH_USD", "short"))

	rec := s.Recommendation()
	require.NotNil(t, rec)
	assert.Equal(t, types.Recommendation{Pair: "ETH_USD", Action: types.ActionShort}, *rec)
}

// ═══════════════════════════════════════════════════════════════════════════════
// POLLS
// ═══════════════════════════════════════════════════════════════════════════════

func TestOpenTradePoll(t *testing.T) {
	e, msgr, _, journal := newTestEngine(1)

	poll, err := e.OpenTradePoll(context.Background(), "BTC_USD", "long")
	require.NoError(t, err)

	assert.Equal(t, "poll-1", poll.PollID)
	assert.Equal(t, 101, poll.MessageID)
	assert.Equal(t, types.PollStateOpen, poll.State)
	assert.Equal(t, []string{"Should we long BTC_USD for the day?"}, msgr.polls)
	require.Len(t, journal.opened, 1)

	rec := e.Session().Recommendation()
	require.NotNil(t, rec)
	assert.Equal(t, "BTC_USD", rec.Pair)

	current := e.Session().CurrentPoll()
	require.NotNil(t, current)
	assert.Equal(t, "poll-1", current.PollID)
}

func TestOpenTradePollValidation(t *testing.T) {
	e, msgr, _, _ := newTestEngine(1)

	_, err := e.OpenTradePoll(context.Background(), "BTC_USD", "sideways")
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = e.OpenTradePoll(context.Background(), " ", "long")
	assert.Error(t, err)

	assert.Empty(t, msgr.polls)
	assert.Nil(t, e.Session().Recommendation())
}

func TestPollCreationFailure(t *testing.T) {
	e, msgr, _, _ := newTestEngine(1)
	msgr.pollErr = errors.New("chat not found")

	_, err := e.OpenTradePoll(context.Background(), "BTC_USD", "long")
	assert.ErrorIs(t, err, ErrPollCreationFailed)
	assert.ErrorContains(t, err, "chat not found")
	assert.Nil(t, e.Session().CurrentPoll())
	assert.Nil(t, e.Session().Recommendation())
}

func TestPollCreateNeedsTwoOptions(t *testing.T) {
	msgr := &fakeMessenger{}
	m := NewPollManager(msgr, NewSession(1), nil, true)

	_, err := m.Create(context.Background(), testChannel, "q?", []string{"Yes"}, nil)
	assert.ErrorIs(t, err, ErrPollCreationFailed)
	assert.Empty(t, msgr.polls)
}

func TestNewPollReplacesTracking(t *testing.T) {
	e, _, exec, _ := newTestEngine(1)
	ctx := context.Background()

	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)
	_, err = e.OpenTradePoll(ctx, "ETH_USD", "short")
	require.NoError(t, err)

	d := e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 5}})
	assert.Equal(t, DecisionIgnored, d)
	assert.Equal(t, 0, exec.count())
	assert.Equal(t, "poll-2", e.Session().CurrentPoll().PollID)
}

func TestClosePollPropagatesError(t *testing.T) {
	msgr := &fakeMessenger{stopErr: errors.New("poll has already been closed")}
	m := NewPollManager(msgr, NewSession(1), nil, true)

	_, err := m.Close(context.Background(), testChannel, 5)
	assert.ErrorContains(t, err, "already been closed")
}

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION POLICY
// ═══════════════════════════════════════════════════════════════════════════════

func TestYesMajorityExecutes(t *testing.T) {
	e, msgr, exec, journal := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	d := e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1, No: 0}})

	assert.Equal(t, DecisionExecuted, d)
	_, stops := msgr.calls()
	assert.Equal(t, []int{101}, stops)
	require.Equal(t, 1, exec.count())
	assert.Equal(t, "BTC_USD", exec.recs[0].Pair)
	assert.Equal(t, types.PollStateClosed, e.Session().CurrentPoll().State)
	assert.Equal(t, []string{resultExecuted}, journal.results)
}

func TestNoMajorityRejects(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	d := e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 0, No: 1}})

	assert.Equal(t, DecisionRejected, d)
	messages, stops := msgr.calls()
	assert.Equal(t, []int{101}, stops)
	assert.Equal(t, []string{MsgTradeRejected}, messages)
	assert.Equal(t, 0, exec.count())
}

func TestTieRejects(t *testing.T) {
	e, _, exec, _ := newTestEngine(2)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	assert.Equal(t, DecisionRejected, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1, No: 1}}))
	assert.Equal(t, 0, exec.count())
}

func TestBelowThresholdStaysOpen(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(3)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	assert.Equal(t, DecisionPending, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 2}}))

	poll := e.Session().CurrentPoll()
	assert.Equal(t, types.PollStateOpen, poll.State)
	assert.Equal(t, 2, poll.YesCount)
	_, stops := msgr.calls()
	assert.Empty(t, stops)
	assert.Equal(t, 0, exec.count())

	assert.Equal(t, DecisionExecuted, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 2, No: 1}}))
}

func TestUnknownPollIgnored(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(1)
	ctx := context.Background()

	assert.Equal(t, DecisionIgnored, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "nope", Tally: types.Tally{Yes: 9}}))

	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)
	before := *e.Session().CurrentPoll()

	assert.Equal(t, DecisionIgnored, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "other", Tally: types.Tally{Yes: 9}}))

	messages, stops := msgr.calls()
	assert.Empty(t, messages)
	assert.Empty(t, stops)
	assert.Equal(t, 0, exec.count())
	assert.Equal(t, before, *e.Session().CurrentPoll())
}

func TestClosedPollIgnoresLateUpdates(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	require.Equal(t, DecisionExecuted, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1}}))
	assert.Equal(t, DecisionIgnored, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1}, Closed: true}))

	_, stops := msgr.calls()
	assert.Len(t, stops, 1)
	assert.Equal(t, 1, exec.count())
}

func TestCloseFailureReopens(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	msgr.stopErr = errors.New("network down")
	assert.Equal(t, DecisionCloseFailed, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1}}))
	assert.Equal(t, types.PollStateOpen, e.Session().CurrentPoll().State)
	assert.Equal(t, 0, exec.count())
	messages, _ := msgr.calls()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "network down")

	msgr.mu.Lock()
	msgr.stopErr = nil
	msgr.mu.Unlock()
	assert.Equal(t, DecisionExecuted, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 2}}))
	assert.Equal(t, 1, exec.count())
}

func TestConcurrentUpdatesExecuteOnce(t *testing.T) {
	e, msgr, exec, _ := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(yes int) {
			defer wg.Done()
			e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: yes}})
		}(i)
	}
	wg.Wait()

	_, stops := msgr.calls()
	assert.Len(t, stops, 1)
	assert.Equal(t, 1, exec.count())
}

func TestExecutesLiveRecommendation(t *testing.T) {
	e, _, exec, _ := newTestEngine(1)
	ctx := context.Background()
	_, err := e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)
	require.NoError(t, e.Session().SetRecommendation("SOL_USD", "short"))

	require.Equal(t, DecisionExecuted, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 1}}))
	assert.Equal(t, types.Recommendation{Pair: "SOL_USD", Action: types.ActionShort}, *exec.recs[0])
}

func TestManualClosePoll(t *testing.T) {
	e, msgr, exec, journal := newTestEngine(5)
	ctx := context.Background()

	_, err := e.ClosePoll(ctx)
	assert.ErrorIs(t, err, ErrNoActivePoll)

	_, err = e.OpenTradePoll(ctx, "BTC_USD", "long")
	require.NoError(t, err)

	_, err = e.ClosePoll(ctx)
	require.NoError(t, err)
	assert.True(t, e.Session().CurrentPoll().Closed())
	_, stops := msgr.calls()
	assert.Len(t, stops, 1)
	assert.Equal(t, []string{"cancelled"}, journal.results)

	assert.Equal(t, DecisionIgnored, e.HandlePollUpdate(ctx, types.PollUpdate{PollID: "poll-1", Tally: types.Tally{Yes: 9}}))
	assert.Equal(t, 0, exec.count())
}
