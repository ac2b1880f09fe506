package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/park285/guessword-bot/internal/tgfast"
)

func main() {
	setURL := flag.String("set-webhook", "", "register this webhook URL after the checks")
	watch := flag.Duration("relay-watch", 10*time.Second, "how long to print frames from RELAY_WS_URL")
	flag.Parse()

	token := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	if token == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}
	client := tgfast.NewClient(os.Getenv("TELEGRAM_API_URL"), token, tgfast.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	me, err := client.GetMe(ctx)
	if err != nil {
		log.Fatalf("getMe error: %v", err)
	}
	log.Printf("getMe ok: id=%d username=@%s", me.ID, me.Username)

	info, err := client.GetWebhookInfo(ctx)
	if err != nil {
		log.Printf("getWebhookInfo error: %v", err)
	} else {
		log.Printf("getWebhookInfo ok: url=%q pending=%d last_error=%q", info.URL, info.PendingUpdateCount, info.LastErrorMessage)
	}

	if *setURL != "" {
		if err := client.SetWebhook(ctx, *setURL); err != nil {
			log.Fatalf("setWebhook error: %v", err)
		}
		log.Printf("setWebhook ok: %s", *setURL)
	}

	wsURL := strings.TrimSpace(os.Getenv("RELAY_WS_URL"))
	if wsURL == "" {
		log.Println("RELAY_WS_URL not set; skipping relay check")
		return
	}
	relay := tgfast.NewRelay(wsURL, 0, nil)
	relay.SetHeader("Authorization", os.Getenv("RELAY_TOKEN"))
	relay.OnStateChange(func(state tgfast.RelayState) {
		log.Printf("relay state: %s", state)
	})
	relay.OnUpdate(func(ctx context.Context, u tgfast.Update) {
		if u.Message != nil {
			fmt.Printf("relay update=%d chat=%d text=%q\n", u.UpdateID, u.Message.Chat.ID, u.Message.Text)
			return
		}
		fmt.Printf("relay update=%d\n", u.UpdateID)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := relay.Connect(cctx); err != nil {
		log.Printf("relay connect error: %v", err)
		return
	}

	// 잠깐 관찰
	time.Sleep(*watch)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	_ = relay.Close(closeCtx)
}
