package bot

import (
	"errors"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xuri/excelize/v2"

	"github.com/halmstad/cargo-dispatch-bot/internal/dialog"
	"github.com/halmstad/cargo-dispatch-bot/internal/models"
	"github.com/halmstad/cargo-dispatch-bot/internal/report"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

const allGroupsLabel = dialog.AllGroupsOption

func participantOf(from *tgbotapi.User) dialog.Participant {
	return dialog.Participant{ID: from.ID, Username: from.UserName}
}

func (b *Bot) handleUpdate(msg *tgbotapi.Message) {
	p := participantOf(msg.From)

	if msg.Contact != nil {
		b.handleContact(msg, p)
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			b.handleStart(msg, p)
			return
		case "cancel":
			b.handleCancelCmd(msg, p)
			return
		case "my_orders":
			b.handleMyOrders(msg, p)
			return
		}
		// /skip and /next belong to the photo-collection step and fall
		// through into the dialog machine like any other text.
	}

	ev := dialog.Event{Text: msg.Text}
	if len(msg.Photo) > 0 {
		// Telegram sends several sizes of the same photo; keep the
		// largest one's reference.
		ev.Photo = msg.Photo[len(msg.Photo)-1].FileID
	}

	res := b.facade.Dialogs.Advance(p, ev)
	if res.Kind == dialog.None {
		b.handleMenu(msg, p)
		return
	}
	b.renderDialog(msg.Chat.ID, p, res)
}

// handleStart registers the contact, resets any dialog and shows the
// role-appropriate menu.
func (b *Bot) handleStart(msg *tgbotapi.Message, p dialog.Participant) {
	b.facade.Dialogs.Cancel(p)

	role, err := b.facade.RegisterContact(p, msg.From.FirstName, msg.From.LastName)
	if err != nil {
		log.Printf("register contact %d: %v", p.ID, err)
		b.sendMessage(msg.Chat.ID, "Error registering. Try again.")
		return
	}

	switch role {
	case models.RoleAdmin:
		b.showAdminMenu(msg.Chat.ID)
	case models.RoleDriver:
		b.showDriverMenu(msg.Chat.ID)
	default:
		b.sendMessage(msg.Chat.ID, "🚫 You are not registered in the system. Contact an administrator.")
	}
}

// handleContact saves the sender's phone from their own contact card.
// An admin sharing someone else's card gets a phone lookup instead.
func (b *Bot) handleContact(msg *tgbotapi.Message, p dialog.Participant) {
	contact := msg.Contact

	if contact.UserID == p.ID {
		if err := b.facade.SavePhone(p.ID, contact.PhoneNumber); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				b.sendMessage(msg.Chat.ID, "Use /start first, then share your contact.")
				return
			}
			log.Printf("save phone for %d: %v", p.ID, err)
			b.sendMessage(msg.Chat.ID, "❌ Error saving your phone number")
			return
		}
		b.sendMessage(msg.Chat.ID, "📞 Phone number saved")
		return
	}

	if !b.facade.IsAdmin(p.ID, p.Username) {
		b.sendMessage(msg.Chat.ID, "Share your own contact to save your phone number.")
		return
	}

	u, err := b.facade.UserByPhone(contact.PhoneNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			b.sendMessage(msg.Chat.ID, "❌ No registered user with that phone number")
			return
		}
		log.Printf("lookup phone %s: %v", contact.PhoneNumber, err)
		b.sendMessage(msg.Chat.ID, "❌ Error looking up the contact")
		return
	}
	b.sendMessage(msg.Chat.ID,
		fmt.Sprintf("Registered: %s (@%s), id %d, role %s", u.DisplayName(), u.Username, u.ID, u.Role))
}

// handleCancelCmd abandons any dialog. Safe with no dialog active.
func (b *Bot) handleCancelCmd(msg *tgbotapi.Message, p dialog.Participant) {
	b.facade.Dialogs.Cancel(p)

	switch {
	case b.facade.IsAdmin(p.ID, p.Username):
		b.showAdminMenu(msg.Chat.ID)
	case b.facade.IsDriver(p.ID):
		b.showDriverMenu(msg.Chat.ID)
	default:
		b.sendMessage(msg.Chat.ID, "❌ Cancelled. Use /start to begin.")
	}
}

func (b *Bot) handleMyOrders(msg *tgbotapi.Message, p dialog.Participant) {
	orders, err := b.facade.MyOrders(p.ID)
	if err != nil {
		log.Printf("my orders for %d: %v", p.ID, err)
		b.sendMessage(msg.Chat.ID, "Error fetching your orders.")
		return
	}

	if len(orders) == 0 {
		b.sendMessage(msg.Chat.ID, "📭 You have no accepted orders yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Your order history:\n\n")
	for i, o := range orders {
		desc := o.Description
		if len(desc) > 50 {
			desc = string([]rune(desc)[:50]) + "..."
		}
		fmt.Fprintf(&sb, "%d. Order #%d\n", i+1, o.ID)
		fmt.Fprintf(&sb, "   Description: %s\n", desc)
		fmt.Fprintf(&sb, "   Accepted: %s\n", o.AcceptedAt.Format("2006-01-02 15:04"))
		sb.WriteString(strings.Repeat("─", 30) + "\n")
	}
	b.sendChunked(msg.Chat.ID, sb.String())
}

// handleMenu services reply-keyboard button presses when no dialog is
// active.
func (b *Bot) handleMenu(msg *tgbotapi.Message, p dialog.Participant) {
	if msg.Text == btnMyOrders {
		b.handleMyOrders(msg, p)
		return
	}

	if !b.facade.IsAdmin(p.ID, p.Username) {
		b.sendMessage(msg.Chat.ID, "Use /start to see your menu.")
		return
	}

	switch msg.Text {
	case btnExportExcel:
		b.showExportMenu(msg.Chat.ID)
	case btnUsersExcel:
		b.exportUsers(msg.Chat.ID)
	case btnDriversExcel:
		b.exportDrivers(msg.Chat.ID)
	case btnAddDriver:
		b.renderDialog(msg.Chat.ID, p, b.facade.Dialogs.BeginAddDriver(p))
	case btnRemoveDriver:
		b.promptRemoveDriver(msg.Chat.ID)
	case btnBroadcast:
		b.renderDialog(msg.Chat.ID, p, b.facade.Dialogs.BeginBroadcast(p, b.facade.TopicBroadcasts()))
	case btnDriverList:
		drivers, err := b.facade.Drivers()
		if err != nil {
			log.Printf("driver list: %v", err)
			b.sendMessage(msg.Chat.ID, "Error fetching drivers.")
			return
		}
		b.sendChunked(msg.Chat.ID, report.DriversText(drivers, b.facade.GroupName))
	case btnUserList:
		users, err := b.facade.Users()
		if err != nil {
			log.Printf("user list: %v", err)
			b.sendMessage(msg.Chat.ID, "Error fetching users.")
			return
		}
		b.sendChunked(msg.Chat.ID, report.UsersText(users))
	case btnGroups:
		b.showGroupMenu(msg.Chat.ID)
	case btnAddGroup:
		b.renderDialog(msg.Chat.ID, p, b.facade.Dialogs.BeginCreateGroup(p))
	case btnDelGroup:
		b.promptRemoveGroup(msg.Chat.ID)
	case btnListGroups:
		b.listGroups(msg.Chat.ID)
	case btnBack:
		b.showAdminMenu(msg.Chat.ID)
	default:
		b.sendMessage(msg.Chat.ID, "Pick an action from the menu, or /start to reset.")
	}
}

// renderDialog turns a dialog result into prompts, keyboards and, on
// completion, the side effects of the finished flow.
func (b *Bot) renderDialog(chatID int64, p dialog.Participant, res dialog.Result) {
	switch res.Kind {
	case dialog.Denied:
		b.sendMessage(chatID, "🚫 You do not have administrator rights")
	case dialog.Aborted:
		b.sendMessage(chatID, "❌ "+res.Reason)
		b.showAdminMenu(chatID)
	case dialog.Rejected, dialog.Stay:
		b.sendMessage(chatID, res.Reason)
	case dialog.Next:
		b.promptStep(chatID, res.Step)
	case dialog.Completed:
		b.completeDialog(chatID, p, res)
	}
}

// promptStep asks for the next event a dialog step expects.
func (b *Bot) promptStep(chatID int64, step dialog.Step) {
	switch step {
	case dialog.StepDriverUsername:
		b.removeKeyboard(chatID, "Send the driver's username (without @):")
	case dialog.StepDriverFullName:
		b.sendMessage(chatID, "Send the driver's full name:")
	case dialog.StepDriverPhone:
		b.sendMessage(chatID, "Send the driver's phone number:")
	case dialog.StepDriverGroup:
		b.groupKeyboard(chatID, "Pick the driver's group:", false)
	case dialog.StepGroupName:
		b.removeKeyboard(chatID, "Send the new group's name:")
	case dialog.StepBroadcastPhotos:
		b.removeKeyboard(chatID, fmt.Sprintf("Send up to %d photos for the broadcast (or /skip):", dialog.MaxBroadcastPhotos))
	case dialog.StepBroadcastText:
		b.sendMessage(chatID, "Send the broadcast text:")
	case dialog.StepBroadcastGroup:
		b.groupKeyboard(chatID, "Pick the target group:", true)
	case dialog.StepTopicName:
		b.removeKeyboard(chatID, "Send the topic name for this order:")
	case dialog.StepPrice:
		b.sendMessage(chatID, "Send your price (a number, optionally followed by a comment):")
	}
}

// completeDialog runs the side effects of a finished flow.
func (b *Bot) completeDialog(chatID int64, p dialog.Participant, res dialog.Result) {
	switch res.Flow {
	case dialog.FlowAddDriver:
		if err := b.facade.AddDriver(res.Draft); err != nil {
			log.Printf("add driver: %v", err)
			b.removeKeyboard(chatID, "❌ Error adding the driver")
			b.showAdminMenu(chatID)
			return
		}
		b.removeKeyboard(chatID, fmt.Sprintf("✅ Driver %s added", res.Draft.DriverFullName))
		b.showAdminMenu(chatID)

	case dialog.FlowCreateGroup:
		if _, err := b.facade.CreateGroup(res.Draft.GroupName); err != nil {
			if errors.Is(err, store.ErrConflict) {
				b.sendMessage(chatID, fmt.Sprintf("❌ Group %q already exists", res.Draft.GroupName))
			} else {
				log.Printf("create group: %v", err)
				b.sendMessage(chatID, "❌ Error creating the group")
			}
			b.showGroupMenu(chatID)
			return
		}
		b.removeKeyboard(chatID, fmt.Sprintf("✅ Group %q created", res.Draft.GroupName))
		b.showGroupMenu(chatID)

	case dialog.FlowBroadcast, dialog.FlowBroadcastTopic:
		orderID, audience, delivered, err := b.facade.PublishOrder(p.ID, res.Draft)
		if err != nil {
			log.Printf("publish order: %v", err)
			b.removeKeyboard(chatID, "❌ Error creating the broadcast")
			b.showAdminMenu(chatID)
			return
		}
		b.removeKeyboard(chatID, fmt.Sprintf("✅ Order #%d sent to %d of %d drivers", orderID, delivered, audience))
		b.showAdminMenu(chatID)

	case dialog.FlowPriceRequest:
		if _, err := b.facade.SubmitOffer(p.ID, res.Draft); err != nil {
			log.Printf("submit offer: %v", err)
			b.sendMessage(chatID, "❌ Error sending your bid")
			return
		}
		b.sendMessage(chatID, fmt.Sprintf("✅ Your bid on order #%d was sent to the dispatcher", res.Draft.OrderID))
	}
}

func (b *Bot) listGroups(chatID int64) {
	groups, err := b.facade.Groups()
	if err != nil {
		log.Printf("list groups: %v", err)
		b.sendMessage(chatID, "Error fetching groups.")
		return
	}
	if len(groups) == 0 {
		b.sendMessage(chatID, "No groups yet. Add one first.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Groups:\n\n")
	for _, g := range groups {
		fmt.Fprintf(&sb, "#%d %s\n", g.ID, g.Name)
	}
	b.sendMessage(chatID, sb.String())
}

// promptRemoveDriver offers each driver as an inline remove button.
func (b *Bot) promptRemoveDriver(chatID int64) {
	drivers, err := b.facade.Drivers()
	if err != nil {
		log.Printf("remove driver prompt: %v", err)
		b.sendMessage(chatID, "Error fetching drivers.")
		return
	}
	if len(drivers) == 0 {
		b.sendMessage(chatID, "🚫 No drivers to remove")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, d := range drivers {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("🗑 %s (@%s)", d.FullName, d.Username),
				"remove_driver_"+d.Username,
			),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Pick the driver to remove:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// promptRemoveGroup offers each group as an inline remove button.
func (b *Bot) promptRemoveGroup(chatID int64) {
	groups, err := b.facade.Groups()
	if err != nil {
		log.Printf("remove group prompt: %v", err)
		b.sendMessage(chatID, "Error fetching groups.")
		return
	}
	if len(groups) == 0 {
		b.sendMessage(chatID, "🚫 No groups to remove")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				"❌ "+g.Name,
				fmt.Sprintf("remove_group_%d", g.ID),
			),
		))
	}

	msg := tgbotapi.NewMessage(chatID, "Pick the group to remove:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (b *Bot) exportUsers(chatID int64) {
	users, err := b.facade.Users()
	if err != nil {
		log.Printf("export users: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
		return
	}
	if len(users) == 0 {
		b.sendMessage(chatID, "❌ No users to export")
		return
	}

	f, filename, err := report.UsersWorkbook(users)
	if err != nil {
		log.Printf("export users workbook: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
		return
	}
	b.sendWorkbook(chatID, f, filename, "📊 User export")
}

func (b *Bot) exportDrivers(chatID int64) {
	drivers, err := b.facade.Drivers()
	if err != nil {
		log.Printf("export drivers: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
		return
	}
	if len(drivers) == 0 {
		b.sendMessage(chatID, "❌ No drivers to export")
		return
	}

	f, filename, err := report.DriversWorkbook(drivers, b.facade.GroupName)
	if err != nil {
		log.Printf("export drivers workbook: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
		return
	}
	b.sendWorkbook(chatID, f, filename, "🚚 Driver export")
}

func (b *Bot) sendWorkbook(chatID int64, f *excelize.File, filename, caption string) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		log.Printf("workbook buffer: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: buf.Bytes()})
	doc.Caption = caption
	if _, err := b.api.Send(doc); err != nil {
		log.Printf("send workbook: %v", err)
		b.sendMessage(chatID, "❌ Export failed")
	}
}
