package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/merklemind/core"
	"github.com/web3guy0/merklemind/internal/callctx"
	"github.com/web3guy0/merklemind/storage"
	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Channel polls, notices & commands
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🗳️ Publishes and stops trade polls in the channel
//   📣 Posts execution notices
//   📥 Feeds poll vote updates to the decision engine
//   🎛️ Commands (/getchatid, /checkbalance, /deposit, /createpoll, ...)
//
// ═══════════════════════════════════════════════════════════════════════════════

// botAPI is the subset of tgbotapi.BotAPI the bot uses
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopPoll(config tgbotapi.StopPollConfig) (tgbotapi.Poll, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Advisor proposes a long and a short pick
type Advisor interface {
	Propose(ctx context.Context) ([]types.Proposal, error)
}

// TradeStats exposes the last execution attempt
type TradeStats interface {
	LastTrade() *types.TradeRecord
}

// StatsReader summarizes persisted polls, deposits and trades
type StatsReader interface {
	GetStats() (map[string]interface{}, error)
	GetRecentTrades(limit int) ([]storage.TradeLog, error)
}

// BreakerControl reports and resets the venue circuit breaker
type BreakerControl interface {
	GetStats() (consecutiveFailures int, tripped bool, reason string)
	ForceReset()
}

// FeedStatus reports the live price stream
type FeedStatus interface {
	IsConnected() bool
	Price(pair string) (decimal.Decimal, bool)
}

// Monitors are optional read-outs for /status, /history and /resetbreaker
type Monitors struct {
	Stats   StatsReader
	Breaker BreakerControl
	Feed    FeedStatus
}

// Options configure the bot
type Options struct {
	Token          string
	ChannelID      int64
	AdminUserID    int64
	CallTimeout    time.Duration // per Telegram call
	StartupTimeout time.Duration // bot login
	LLMTimeout     time.Duration // /propose
	DryRun         bool
}

// TelegramBot manages the Telegram interface
type TelegramBot struct {
	mu       sync.RWMutex
	api      botAPI
	username string
	opts     Options

	engine   *core.Engine
	ledger   *core.Ledger
	advisor  Advisor
	trades   TradeStats
	monitors Monitors
}

// NewTelegramBot logs in to Telegram. Login is bounded by StartupTimeout.
func NewTelegramBot(ctx context.Context, opts Options) (*TelegramBot, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}

	api, err := callctx.Do(ctx, opts.StartupTimeout, func() (*tgbotapi.BotAPI, error) {
		return tgbotapi.NewBotAPI(opts.Token)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := newTelegramBot(api, opts)
	bot.username = api.Self.UserName

	log.Info().Str("username", bot.username).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

func newTelegramBot(api botAPI, opts Options) *TelegramBot {
	return &TelegramBot{api: api, opts: opts}
}

// SetHandlers attaches the voting state the commands act on
func (b *TelegramBot) SetHandlers(engine *core.Engine, ledger *core.Ledger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engine = engine
	b.ledger = ledger
}

// SetAdvisor enables /propose
func (b *TelegramBot) SetAdvisor(advisor Advisor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advisor = advisor
}

// SetTradeStats enables the last trade line in /status
func (b *TelegramBot) SetTradeStats(trades TradeStats) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = trades
}

// SetMonitors enables the stats, breaker and feed lines
func (b *TelegramBot) SetMonitors(m Monitors) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.monitors = m
}

// ═══════════════════════════════════════════════════════════════════════════════
// MESSENGER
// ═══════════════════════════════════════════════════════════════════════════════

// SendMessage posts text to chatID and returns the message id
func (b *TelegramBot) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	msg, err := callctx.Do(ctx, b.opts.CallTimeout, func() (tgbotapi.Message, error) {
		return b.api.Send(tgbotapi.NewMessage(chatID, text))
	})
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPoll publishes a regular single-answer poll
func (b *TelegramBot) SendPoll(ctx context.Context, chatID int64, question string, options []string, anonymous bool) (string, int, error) {
	cfg := tgbotapi.NewPoll(chatID, question, options...)
	cfg.IsAnonymous = anonymous

	msg, err := callctx.DoLate(ctx, b.opts.CallTimeout, func() (tgbotapi.Message, error) {
		return b.api.Send(cfg)
	}, func(late tgbotapi.Message, err error) {
		if err == nil && late.Poll != nil {
			b.stopOrphanPoll(chatID, late)
		}
	})
	if err != nil {
		return "", 0, err
	}
	if msg.Poll == nil {
		return "", 0, fmt.Errorf("telegram returned no poll for message %d", msg.MessageID)
	}
	return msg.Poll.ID, msg.MessageID, nil
}

// StopPoll closes the poll message and returns its final tally
func (b *TelegramBot) StopPoll(ctx context.Context, chatID int64, messageID int) (types.Tally, error) {
	poll, err := callctx.Do(ctx, b.opts.CallTimeout, func() (tgbotapi.Poll, error) {
		return b.api.StopPoll(tgbotapi.NewStopPoll(chatID, messageID))
	})
	if err != nil {
		return types.Tally{}, err
	}
	return tallyOf(poll), nil
}

// stopOrphanPoll closes a poll that was published after SendPoll gave up.
// Nothing tracks it, so votes on it would otherwise go nowhere.
func (b *TelegramBot) stopOrphanPoll(chatID int64, msg tgbotapi.Message) {
	logger := log.With().Str("poll_id", msg.Poll.ID).Int("message_id", msg.MessageID).Logger()
	if _, err := b.api.StopPoll(tgbotapi.NewStopPoll(chatID, msg.MessageID)); err != nil {
		logger.Error().Err(err).Msg("Untracked poll published late and could not be stopped")
		return
	}
	logger.Warn().Msg("Untracked poll published late, stopped it")
}

// tallyOf reads option 0 as yes and option 1 as no
func tallyOf(p tgbotapi.Poll) types.Tally {
	var t types.Tally
	if len(p.Options) > 0 {
		t.Yes = p.Options[0].VoterCount
	}
	if len(p.Options) > 1 {
		t.No = p.Options[1].VoterCount
	}
	return t
}

// ═══════════════════════════════════════════════════════════════════════════════
// UPDATE LOOP
// ═══════════════════════════════════════════════════════════════════════════════

// Run receives updates until ctx is cancelled. Updates are handled one at a
// time in arrival order.
func (b *TelegramBot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "channel_post", "poll"}

	updates := b.api.GetUpdatesChan(u)
	log.Info().Msg("📱 Telegram bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info().Msg("Telegram bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *TelegramBot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Recovered from panic in update handler")
		}
	}()

	switch {
	case update.Poll != nil:
		b.handlePoll(ctx, update.Poll)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.ChannelPost != nil && update.ChannelPost.IsCommand():
		b.handleCommand(ctx, update.ChannelPost)
	}
}

func (b *TelegramBot) handlePoll(ctx context.Context, poll *tgbotapi.Poll) {
	b.mu.RLock()
	engine := b.engine
	b.mu.RUnlock()
	if engine == nil {
		return
	}

	decision := engine.HandlePollUpdate(ctx, types.PollUpdate{
		PollID: poll.ID,
		Tally:  tallyOf(*poll),
		Closed: poll.IsClosed,
	})
	log.Debug().Str("poll_id", poll.ID).Stringer("decision", decision).Msg("Poll update handled")
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.SendMessage(ctx, chatID, text); err != nil {
		log.Error().Err(err).Int64("chat", chatID).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) isAdmin(msg *tgbotapi.Message) bool {
	return msg.From != nil && b.opts.AdminUserID != 0 && msg.From.ID == b.opts.AdminUserID
}
