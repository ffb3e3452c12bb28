// Package bot is the Telegram shell around the dispatch core: it turns
// updates into facade calls and facade outcomes into messages, menus
// and inline buttons. All domain decisions happen in the facade.
package bot

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/halmstad/cargo-dispatch-bot/internal/dispatch"
)

// messageLimit is the Telegram text message size cap; longer exports are
// chunked.
const messageLimit = 4096

type Bot struct {
	api    *tgbotapi.BotAPI
	facade *dispatch.Facade
}

type Config struct {
	Token string
}

// New creates the bot and authorizes against the chat platform. The
// facade is wired afterwards via SetFacade because the facade's notifier
// is the bot itself.
func New(cfg Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: create: %w", err)
	}

	log.Printf("Authorized on account %s", api.Self.UserName)
	return &Bot{api: api}, nil
}

// SetFacade attaches the dispatch facade the handlers call.
func (b *Bot) SetFacade(f *dispatch.Facade) {
	b.facade = f
}

// Run consumes updates until the update channel closes.
func (b *Bot) Run() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			b.handleCallback(update.CallbackQuery)
		case update.Message != nil:
			b.handleUpdate(update.Message)
		}
	}

	return nil
}

// SendText implements dispatch.Notifier.
func (b *Bot) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

// SendOrder implements dispatch.Notifier: the broadcast caption and
// photos, followed by the accept and bid affordances for the order.
func (b *Bot) SendOrder(chatID int64, orderID int64, caption string, photos []string) error {
	if len(photos) > 0 {
		media := make([]interface{}, 0, len(photos))
		for i, ref := range photos {
			photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(ref))
			if i == 0 {
				photo.Caption = caption
			}
			media = append(media, photo)
		}
		if _, err := b.api.SendMediaGroup(tgbotapi.NewMediaGroup(chatID, media)); err != nil {
			return err
		}
	} else {
		if err := b.SendText(chatID, caption); err != nil {
			return err
		}
	}

	msg := tgbotapi.NewMessage(chatID, "Respond to the order:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Take order", fmt.Sprintf("accept_order_%d", orderID)),
			tgbotapi.NewInlineKeyboardButtonData("💵 Offer price", fmt.Sprintf("offer_price_%d", orderID)),
		),
	)
	_, err := b.api.Send(msg)
	return err
}

// sendMessage delivers a plain text message, logging delivery failures.
func (b *Bot) sendMessage(chatID int64, text string) {
	if err := b.SendText(chatID, text); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// sendChunked splits an over-long text across several messages.
func (b *Bot) sendChunked(chatID int64, text string) {
	runes := []rune(text)
	for len(runes) > messageLimit {
		b.sendMessage(chatID, string(runes[:messageLimit]))
		runes = runes[messageLimit:]
	}
	if len(runes) > 0 {
		b.sendMessage(chatID, string(runes))
	}
}

// sendWithKeyboard delivers a message with a reply keyboard attached.
func (b *Bot) sendWithKeyboard(chatID int64, text string, rows ...[]tgbotapi.KeyboardButton) {
	msg := tgbotapi.NewMessage(chatID, text)
	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.ResizeKeyboard = true
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// removeKeyboard delivers a message and clears any reply keyboard.
func (b *Bot) removeKeyboard(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// Menu button labels.
const (
	btnExportExcel  = "📊 Excel export"
	btnAddDriver    = "🚚 Add driver"
	btnRemoveDriver = "🗑 Remove driver"
	btnBroadcast    = "📨 New broadcast"
	btnDriverList   = "📋 Driver list"
	btnUserList     = "📇 User list"
	btnGroups       = "👥 Manage groups"

	btnAddGroup   = "➕ Add group"
	btnDelGroup   = "➖ Remove group"
	btnListGroups = "📋 List groups"
	btnBack       = "⬅️ Back"

	btnUsersExcel   = "📊 Users Excel"
	btnDriversExcel = "🚚 Drivers Excel"

	btnMyOrders = "📋 My orders"
)

func (b *Bot) showAdminMenu(chatID int64) {
	b.sendWithKeyboard(chatID, "👑 Admin panel\n\nPick an action:",
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnExportExcel)),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnAddDriver),
			tgbotapi.NewKeyboardButton(btnRemoveDriver),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBroadcast),
			tgbotapi.NewKeyboardButton(btnDriverList),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnUserList),
			tgbotapi.NewKeyboardButton(btnGroups),
		),
	)
}

func (b *Bot) showDriverMenu(chatID int64) {
	b.sendWithKeyboard(chatID, "🚚 Driver panel\n\nCommands:\n/my_orders - your accepted orders",
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnMyOrders)),
	)
}

func (b *Bot) showGroupMenu(chatID int64) {
	b.sendWithKeyboard(chatID, "👥 Group management:",
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnAddGroup),
			tgbotapi.NewKeyboardButton(btnDelGroup),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnListGroups),
			tgbotapi.NewKeyboardButton(btnBack),
		),
	)
}

func (b *Bot) showExportMenu(chatID int64) {
	b.sendWithKeyboard(chatID, "Pick an export:",
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnUsersExcel),
			tgbotapi.NewKeyboardButton(btnDriversExcel),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnBack)),
	)
}

// groupKeyboard offers every current group as a reply button, with an
// optional "All groups" row for broadcast targeting.
func (b *Bot) groupKeyboard(chatID int64, prompt string, withAll bool) {
	groups, err := b.facade.Groups()
	if err != nil {
		log.Printf("group keyboard: %v", err)
		b.sendMessage(chatID, "Error loading groups. Try again.")
		return
	}

	var rows [][]tgbotapi.KeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(g.Name)))
	}
	if withAll {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(allGroupsLabel)))
	}
	b.sendWithKeyboard(chatID, prompt, rows...)
}
