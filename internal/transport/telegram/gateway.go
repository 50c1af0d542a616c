package telegram

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "childebot/internal/transport"
)

// Gateway adapts the Telegram transport to the dispatcher's delivery
// interface. Destinations are chat IDs in decimal string form.
type Gateway struct {
	adapter *Adapter
}

func NewGateway(a *Adapter) *Gateway { return &Gateway{adapter: a} }

func (g *Gateway) Deliver(ctx context.Context, destination string, text string) error {
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("bad destination %q: %w", destination, err)
	}
	_, err = g.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      tele.ModeMarkdown,
		DisablePreview: true,
	})
	return err
}
