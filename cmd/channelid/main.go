// channelid prints the numeric chat id of a public channel.
//
// Usage: channelid @mychannel
//
// The bot must be an admin of the channel. A placeholder message is posted and
// deleted immediately.
package main

import (
	"fmt"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	username := os.Getenv("TELEGRAM_CHANNEL_USERNAME")
	if len(os.Args) > 1 {
		username = os.Args[1]
	}
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		log.Fatal().Msg("usage: channelid @channel (or set TELEGRAM_CHANNEL_USERNAME)")
	}

	api, err := tgbotapi.NewBotAPI(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	sent, err := api.Send(tgbotapi.NewMessageToChannel("@"+username, "Fetching chat ID..."))
	if err != nil {
		log.Fatal().Err(err).Str("channel", username).Msg("Failed to post to channel")
	}

	if _, err := api.Request(tgbotapi.NewDeleteMessage(sent.Chat.ID, sent.MessageID)); err != nil {
		log.Warn().Err(err).Msg("Failed to delete placeholder message")
	}

	fmt.Println(sent.Chat.ID)
}
