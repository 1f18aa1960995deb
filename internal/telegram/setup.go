package telegram

import (
	"encoding/json"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SetupWebhook points the bot at webhookURL and, when appURL is set, installs
// the Mini-App menu button. The menu button call goes through MakeRequest
// since the client library predates Bot API 6.0.
func SetupWebhook(bot *tgbotapi.BotAPI, webhookURL, appURL string) error {
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	log.Printf("[telegram] webhook set to %s", webhookURL)

	if appURL == "" {
		return nil
	}

	menuButton, err := json.Marshal(map[string]any{
		"type": "web_app",
		"text": "Open CBO-Bro",
		"web_app": map[string]string{
			"url": appURL,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode menu button: %w", err)
	}

	params := tgbotapi.Params{"menu_button": string(menuButton)}
	if _, err := bot.MakeRequest("setChatMenuButton", params); err != nil {
		return fmt.Errorf("failed to set menu button: %w", err)
	}
	log.Printf("[telegram] menu button set to %s", appURL)
	return nil
}
