// Command bottest opens bot.sannysoft.com in a browser using the same
// stealth options as the crawler, allowing you to audit the browser fingerprint.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/lmittmann/tint"

	"github.com/ibeckermayer/slidecrawl/internal/browser"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: time.Kitchen}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("opening fingerprint audit with stealth browser options", "url", browser.AuditURL)
	c, err := browser.OpenAudit(ctx, browser.Options{}, logger)
	if err != nil {
		logger.Error("failed to open audit page", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	fmt.Println("Press Enter to close the browser...")
	go func() {
		bufio.NewReader(os.Stdin).ReadString('\n')
		stop()
	}()
	<-ctx.Done()

	logger.Info("done")
}
