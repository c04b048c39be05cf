package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/core"
	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

const (
	msgNotAuthorizedBalance = "You are not authorized to check the balance."
	msgAdminOnly            = "⛔ This command is restricted to the admin."
	msgNoUser               = "Unable to determine user ID."
	msgDepositSoon          = "Deposit functionality coming soon..."
)

func (b *TelegramBot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())
	chatID := msg.Chat.ID

	log.Debug().Str("command", cmd).Int64("chat", chatID).Msg("Command received")

	switch cmd {
	case "start", "help":
		b.cmdHelp(ctx, chatID)
	case "getchatid":
		log.Info().Int64("chat", chatID).Msg("Chat ID requested")
		b.reply(ctx, chatID, fmt.Sprintf("Chat ID: %d", chatID))
	case "checkbalance":
		b.cmdCheckBalance(ctx, msg)
	case "deposit":
		if msg.From == nil {
			b.reply(ctx, chatID, msgNoUser)
			return
		}
		b.reply(ctx, chatID, msgDepositSoon)
	case "status":
		b.cmdStatus(ctx, chatID)
	case "createpoll":
		if b.requireAdmin(ctx, msg) {
			b.cmdCreatePoll(ctx, msg)
		}
	case "closepoll":
		if b.requireAdmin(ctx, msg) {
			b.cmdClosePoll(ctx, chatID)
		}
	case "threshold":
		if b.requireAdmin(ctx, msg) {
			b.cmdThreshold(ctx, msg)
		}
	case "history":
		if b.requireAdmin(ctx, msg) {
			b.cmdHistory(ctx, chatID)
		}
	case "resetbreaker":
		if b.requireAdmin(ctx, msg) {
			b.cmdResetBreaker(ctx, chatID)
		}
	case "propose":
		if b.requireAdmin(ctx, msg) {
			b.cmdPropose(ctx, chatID)
		}
	default:
		b.reply(ctx, chatID, "❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) requireAdmin(ctx context.Context, msg *tgbotapi.Message) bool {
	if b.isAdmin(msg) {
		return true
	}
	b.reply(ctx, msg.Chat.ID, msgAdminOnly)
	return false
}

func (b *TelegramBot) cmdHelp(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, `🤖 MERKLEMIND COMMANDS
━━━━━━━━━━━━━━━━━━━━
🆔 /getchatid - Show this chat's ID
💰 /checkbalance - Pool balance (admin)
💵 /deposit - Deposit USDC
📊 /status - Threshold, recommendation, poll
━━━━━━━━━━━━━━━━━━━━
Admin:
🗳️ /createpoll <pair> <long|short>
🔒 /closepoll - Stop the current poll
🎚️ /threshold <n>
🧠 /propose - Ask the advisor and open a poll
📜 /history - Recent trades
🔌 /resetbreaker - Re-enable venue orders`)
}

func (b *TelegramBot) cmdCheckBalance(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.From == nil {
		b.reply(ctx, chatID, msgNoUser)
		return
	}
	if !b.isAdmin(msg) {
		b.reply(ctx, chatID, msgNotAuthorizedBalance)
		return
	}

	b.mu.RLock()
	ledger := b.ledger
	b.mu.RUnlock()
	if ledger == nil {
		b.reply(ctx, chatID, "❌ Balance not available")
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("Current USDC balance: %s\nPool total: %s",
		ledger.Balance(msg.From.ID).String(), ledger.Total().String()))
}

func (b *TelegramBot) cmdStatus(ctx context.Context, chatID int64) {
	b.mu.RLock()
	engine, trades, mon := b.engine, b.trades, b.monitors
	b.mu.RUnlock()
	if engine == nil {
		b.reply(ctx, chatID, "❌ Status not available")
		return
	}
	session := engine.Session()

	mode := "LIVE"
	if b.opts.DryRun {
		mode = "PAPER"
	}

	recStr := "none"
	if rec := session.Recommendation(); rec != nil {
		recStr = fmt.Sprintf("%s %s", rec.Action, rec.Pair)
		if mon.Feed != nil {
			if price, ok := mon.Feed.Price(rec.Pair); ok {
				recStr += " @ $" + price.String()
			}
		}
	}

	pollStr := "none"
	if p := session.CurrentPoll(); p != nil {
		pollStr = fmt.Sprintf("%s (yes %d / no %d)", p.State, p.YesCount, p.NoCount)
	}

	msg := fmt.Sprintf(`📊 STATUS
━━━━━━━━━━━━━━━━━━━━
⚙️ Mode: %s
🎚️ Threshold: %d
🎯 Recommendation: %s
🗳️ Poll: %s`, mode, session.TradeThreshold(), recStr, pollStr)

	if trades != nil {
		if last := trades.LastTrade(); last != nil {
			msg += fmt.Sprintf("\n📜 Last trade: %s %s %s (%s)",
				last.Status, last.Action, last.Pair, last.Timestamp.Format("Jan 2 15:04"))
		}
	}

	if mon.Breaker != nil {
		failures, tripped, reason := mon.Breaker.GetStats()
		if tripped {
			msg += fmt.Sprintf("\n🔌 Venue: ⛔ paused (%s)", reason)
		} else {
			msg += fmt.Sprintf("\n🔌 Venue: ✅ ok (%d recent failures)", failures)
		}
	}
	if mon.Feed != nil {
		feedStr := "🔴 disconnected"
		if mon.Feed.IsConnected() {
			feedStr = "🟢 connected"
		}
		msg += "\n📡 Price feed: " + feedStr
	}
	if mon.Stats != nil {
		if stats, err := mon.Stats.GetStats(); err == nil {
			msg += fmt.Sprintf("\n📈 Polls: %v (%v executed) | Trades: %v | Deposits: %v",
				stats["total_polls"], stats["executed_polls"], stats["total_trades"], stats["total_deposits"])
		} else {
			log.Warn().Err(err).Msg("Failed to load stats")
		}
	}

	b.reply(ctx, chatID, msg)
}

func (b *TelegramBot) cmdHistory(ctx context.Context, chatID int64) {
	b.mu.RLock()
	stats := b.monitors.Stats
	b.mu.RUnlock()
	if stats == nil {
		b.reply(ctx, chatID, "❌ History not available")
		return
	}

	trades, err := stats.GetRecentTrades(10)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load trades")
		b.reply(ctx, chatID, "❌ Failed to load trades")
		return
	}
	if len(trades) == 0 {
		b.reply(ctx, chatID, "📜 No trades yet")
		return
	}

	var text strings.Builder
	text.WriteString("📜 RECENT TRADES\n━━━━━━━━━━━━━━━━━━━━")
	for _, t := range trades {
		emoji := "✅"
		switch types.TradeStatus(t.Status) {
		case types.TradeStatusFailed:
			emoji = "❌"
		case types.TradeStatusSkipped:
			emoji = "⏭️"
		}
		fmt.Fprintf(&text, "\n%s %s %s %s", emoji, t.CreatedAt.Format("Jan 2 15:04"), t.Action, t.Pair)
		if t.TxHash != "" {
			fmt.Fprintf(&text, " %s", t.TxHash)
		}
	}
	b.reply(ctx, chatID, text.String())
}

func (b *TelegramBot) cmdResetBreaker(ctx context.Context, chatID int64) {
	b.mu.RLock()
	breaker := b.monitors.Breaker
	b.mu.RUnlock()
	if breaker == nil {
		b.reply(ctx, chatID, "❌ Circuit breaker not configured")
		return
	}

	breaker.ForceReset()
	b.reply(ctx, chatID, "🔌 Circuit breaker reset, venue orders re-enabled")
}

func (b *TelegramBot) cmdCreatePoll(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.reply(ctx, chatID, "Usage: /createpoll <pair> <long|short>")
		return
	}

	b.openPoll(ctx, chatID, args[0], args[1])
}

func (b *TelegramBot) openPoll(ctx context.Context, chatID int64, pair, action string) {
	b.mu.RLock()
	engine := b.engine
	b.mu.RUnlock()
	if engine == nil {
		b.reply(ctx, chatID, "❌ Polls not available")
		return
	}

	poll, err := engine.OpenTradePoll(ctx, pair, action)
	switch {
	case errors.Is(err, core.ErrInvalidAction):
		b.reply(ctx, chatID, "Invalid action. Use long or short.")
	case err != nil:
		log.Error().Err(err).Msg("Error creating poll")
		b.reply(ctx, chatID, "Error creating poll")
	default:
		b.reply(ctx, chatID, fmt.Sprintf("🗳️ Poll created: %s", poll.Question))
	}
}

func (b *TelegramBot) cmdClosePoll(ctx context.Context, chatID int64) {
	b.mu.RLock()
	engine := b.engine
	b.mu.RUnlock()
	if engine == nil {
		return
	}

	tally, err := engine.ClosePoll(ctx)
	switch {
	case errors.Is(err, core.ErrNoActivePoll):
		b.reply(ctx, chatID, "No open poll.")
	case err != nil:
		b.reply(ctx, chatID, fmt.Sprintf("Error closing poll: %v", err))
	default:
		b.reply(ctx, chatID, fmt.Sprintf("🔒 Poll closed without trading (yes %d / no %d)", tally.Yes, tally.No))
	}
}

func (b *TelegramBot) cmdThreshold(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	b.mu.RLock()
	engine := b.engine
	b.mu.RUnlock()
	if engine == nil {
		return
	}

	n, err := strconv.Atoi(strings.TrimSpace(msg.CommandArguments()))
	if err != nil || engine.Session().SetTradeThreshold(n) != nil {
		b.reply(ctx, chatID, "Invalid threshold value")
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("Trade threshold set to: %d", n))
}

func (b *TelegramBot) cmdPropose(ctx context.Context, chatID int64) {
	b.mu.RLock()
	advisor := b.advisor
	b.mu.RUnlock()
	if advisor == nil {
		b.reply(ctx, chatID, "❌ Advisor not configured")
		return
	}

	b.reply(ctx, chatID, "🧠 Analyzing markets...")

	proposeCtx, cancel := ctx, context.CancelFunc(func() {})
	if b.opts.LLMTimeout > 0 {
		proposeCtx, cancel = context.WithTimeout(ctx, b.opts.LLMTimeout)
	}
	proposals, err := advisor.Propose(proposeCtx)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("Advisor failed")
		b.reply(ctx, chatID, fmt.Sprintf("Error getting proposal: %v", err))
		return
	}

	var long *types.Proposal
	var text strings.Builder
	text.WriteString("🧠 ADVISOR PICKS\n━━━━━━━━━━━━━━━━━━━━")
	for i := range proposals {
		p := proposals[i]
		emoji := "🔴"
		if p.Side == types.ActionLong {
			emoji = "🟢"
			if long == nil {
				long = &proposals[i]
			}
		}
		fmt.Fprintf(&text, "\n%s %s %s\n%s\n", emoji, strings.ToUpper(string(p.Side)), p.ID, p.Explanation)
	}
	b.reply(ctx, chatID, text.String())

	if long == nil {
		return
	}
	b.openPoll(ctx, chatID, long.ID, string(types.ActionLong))
}
