// Command webhooksetup registers the Telegram webhook and Mini-App menu
// button for the configured bot. Run once after deploying a new public URL.
package main

import (
	"flag"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/digitaldavinci/cbo-bro/internal/config"
	"github.com/digitaldavinci/cbo-bro/internal/telegram"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	webhookURL := flag.String("webhook", cfg.Telegram.WebhookURL, "public webhook URL (https://.../telegram-webhook)")
	appURL := flag.String("app", cfg.Telegram.AppURL, "Mini-App URL for the menu button (empty to skip)")
	remove := flag.Bool("remove", false, "remove the webhook instead of setting it")
	flag.Parse()

	if !cfg.Telegram.Enabled() {
		log.Fatal("TELEGRAM_BOT_TOKEN is not configured")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatalf("failed to initialize bot: %v", err)
	}
	log.Printf("authorized as @%s", bot.Self.UserName)

	if *remove {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Fatalf("failed to remove webhook: %v", err)
		}
		log.Println("webhook removed")
		return
	}

	if *webhookURL == "" {
		log.Fatal("webhook URL is required: set WEBHOOK_URL or pass -webhook")
	}

	if err := telegram.SetupWebhook(bot, *webhookURL, *appURL); err != nil {
		log.Fatalf("webhook setup failed: %v", err)
	}

	info, err := bot.GetWebhookInfo()
	if err != nil {
		log.Fatalf("failed to read webhook info: %v", err)
	}
	log.Printf("webhook active: url=%s pending=%d", info.URL, info.PendingUpdateCount)
}
