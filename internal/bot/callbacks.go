package bot

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

// Action tokens carried in callback data, format "<action>_<param>...".
const (
	tokenAcceptOrder  = "accept_order_"
	tokenAcceptOffer  = "accept_offer_"
	tokenOfferPrice   = "offer_price_"
	tokenRemoveDriver = "remove_driver_"
	tokenRemoveGroup  = "remove_group_"
)

func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	data := cb.Data

	switch {
	case strings.HasPrefix(data, tokenAcceptOrder):
		b.callbackAcceptOrder(cb, strings.TrimPrefix(data, tokenAcceptOrder))
	case strings.HasPrefix(data, tokenAcceptOffer):
		b.callbackAcceptOffer(cb, strings.TrimPrefix(data, tokenAcceptOffer))
	case strings.HasPrefix(data, tokenOfferPrice):
		b.callbackOfferPrice(cb, strings.TrimPrefix(data, tokenOfferPrice))
	case strings.HasPrefix(data, tokenRemoveDriver):
		b.callbackRemoveDriver(cb, strings.TrimPrefix(data, tokenRemoveDriver))
	case strings.HasPrefix(data, tokenRemoveGroup):
		b.callbackRemoveGroup(cb, strings.TrimPrefix(data, tokenRemoveGroup))
	default:
		b.answer(cb, "Unknown action")
	}
}

// callbackAcceptOrder is the direct-accept race. The advisory taken
// check only shortens the losing path; the decision itself is the
// atomic accept in the store.
func (b *Bot) callbackAcceptOrder(cb *tgbotapi.CallbackQuery, arg string) {
	orderID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.answer(cb, "Malformed order reference")
		return
	}

	driverID := cb.From.ID
	if !b.facade.IsDriver(driverID) {
		b.answer(cb, "❌ You are not a registered driver")
		return
	}

	if b.facade.OrderTaken(orderID) {
		b.loseRace(cb)
		return
	}

	err = b.facade.AcceptOrderDirect(orderID, driverID)
	switch {
	case errors.Is(err, store.ErrAlreadyTaken):
		b.loseRace(cb)
	case errors.Is(err, store.ErrNotFound):
		b.answer(cb, "❌ Order not found")
	case err != nil:
		log.Printf("accept order %d by %d: %v", orderID, driverID, err)
		b.answer(cb, "❌ Error accepting the order")
	default:
		b.answer(cb, "✅ Order accepted!")
		b.disableButtons(cb)
		b.sendMessage(chatOf(cb), "✅ You accepted the order!")
	}
}

// loseRace tells a losing driver the slot is gone and invalidates the
// stale button.
func (b *Bot) loseRace(cb *tgbotapi.CallbackQuery) {
	b.answer(cb, "❌ This order was already taken by another driver")
	b.disableButtons(cb)
	b.sendMessage(chatOf(cb), "❌ Unfortunately this order was already taken by another driver")
}

// callbackAcceptOffer commits a specific driver's bid, admin action.
// Token params: <orderId>_<driverId>.
func (b *Bot) callbackAcceptOffer(cb *tgbotapi.CallbackQuery, arg string) {
	if !b.facade.IsAdmin(cb.From.ID, cb.From.UserName) {
		b.answer(cb, "🚫 You do not have administrator rights")
		return
	}

	orderArg, driverArg, ok := strings.Cut(arg, "_")
	if !ok {
		b.answer(cb, "Malformed bid reference")
		return
	}
	orderID, err1 := strconv.ParseInt(orderArg, 10, 64)
	driverID, err2 := strconv.ParseInt(driverArg, 10, 64)
	if err1 != nil || err2 != nil {
		b.answer(cb, "Malformed bid reference")
		return
	}

	offer, err := b.facade.AcceptBid(orderID, driverID)
	switch {
	case errors.Is(err, store.ErrAlreadyTaken):
		b.answer(cb, "❌ This order is already committed")
		b.disableButtons(cb)
	case errors.Is(err, store.ErrNotFound):
		b.answer(cb, "❌ Bid not found")
	case err != nil:
		log.Printf("accept bid order %d driver %d: %v", orderID, driverID, err)
		b.answer(cb, "❌ Error accepting the bid")
	default:
		b.answer(cb, "✅ Bid accepted")
		b.disableButtons(cb)
		b.sendMessage(chatOf(cb),
			fmt.Sprintf("✅ Order #%d committed at %.2f", offer.OrderID, offer.Price))
	}
}

// callbackOfferPrice starts the price dialog for the order behind the
// button.
func (b *Bot) callbackOfferPrice(cb *tgbotapi.CallbackQuery, arg string) {
	orderID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.answer(cb, "Malformed order reference")
		return
	}

	p := participantOf(cb.From)
	if !b.facade.IsDriver(p.ID) {
		b.answer(cb, "❌ You are not a registered driver")
		return
	}
	if b.facade.OrderTaken(orderID) {
		b.loseRace(cb)
		return
	}

	b.answer(cb, "")
	b.renderDialog(chatOf(cb), p, b.facade.Dialogs.BeginPriceRequest(p, orderID))
}

func (b *Bot) callbackRemoveDriver(cb *tgbotapi.CallbackQuery, username string) {
	if !b.facade.IsAdmin(cb.From.ID, cb.From.UserName) {
		b.answer(cb, "🚫 You do not have administrator rights")
		return
	}

	err := b.facade.RemoveDriver(username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.answer(cb, "❌ Driver not found")
		b.editText(cb, "❌ Driver not found")
	case err != nil:
		log.Printf("remove driver %s: %v", username, err)
		b.answer(cb, "❌ Error removing the driver")
	default:
		b.answer(cb, "✅ Driver removed")
		b.editText(cb, fmt.Sprintf("✅ Driver @%s removed", username))
	}
}

func (b *Bot) callbackRemoveGroup(cb *tgbotapi.CallbackQuery, arg string) {
	if !b.facade.IsAdmin(cb.From.ID, cb.From.UserName) {
		b.answer(cb, "🚫 You do not have administrator rights")
		return
	}

	groupID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		b.answer(cb, "Malformed group reference")
		return
	}

	err = b.facade.RemoveGroup(groupID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.answer(cb, "❌ Group not found")
		b.editText(cb, "❌ Group not found")
	case err != nil:
		log.Printf("remove group %d: %v", groupID, err)
		b.answer(cb, "❌ Error removing the group")
	default:
		b.answer(cb, "✅ Group removed")
		b.editText(cb, "✅ Group removed")
	}
}

// chatOf returns the chat to reply in: the message the button lived on,
// or the presser's private chat when the message is gone.
func chatOf(cb *tgbotapi.CallbackQuery) int64 {
	if cb.Message != nil {
		return cb.Message.Chat.ID
	}
	return cb.From.ID
}

func (b *Bot) answer(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		log.Printf("answer callback: %v", err)
	}
}

// disableButtons strips the inline keyboard from the message that
// carried the pressed button.
func (b *Bot) disableButtons(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	if _, err := b.api.Request(edit); err != nil {
		log.Printf("disable buttons: %v", err)
	}
}

func (b *Bot) editText(cb *tgbotapi.CallbackQuery, text string) {
	if cb.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageText(cb.Message.Chat.ID, cb.Message.MessageID, text)
	if _, err := b.api.Request(edit); err != nil {
		log.Printf("edit message: %v", err)
	}
}
