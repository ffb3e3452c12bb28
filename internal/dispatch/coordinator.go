package dispatch

import (
	"fmt"
	"log"
	"time"

	"github.com/halmstad/cargo-dispatch-bot/internal/models"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

// Coordinator converts driver interest into exactly one binding
// acceptance per order. The storage layer's insert-if-absent is the sole
// correctness mechanism; everything the coordinator adds on top is
// lookup, formatting and best-effort notification.
type Coordinator struct {
	store         *store.Store
	notifier      Notifier
	ordersChannel int64 // optional summary channel; 0 disables it
}

// NewCoordinator creates a Coordinator. ordersChannel may be 0.
func NewCoordinator(st *store.Store, n Notifier, ordersChannel int64) *Coordinator {
	return &Coordinator{store: st, notifier: n, ordersChannel: ordersChannel}
}

// AcceptOrderDirect commits a driver to an order in the one-tap flow.
// Returns store.ErrAlreadyTaken when another driver won the race and
// store.ErrNotFound when the order or the driver is unknown. The
// admin notification fires only on success and never rolls back the
// acceptance when delivery fails.
func (c *Coordinator) AcceptOrderDirect(orderID, driverID int64) error {
	driver, err := c.store.GetDriver(driverID)
	if err != nil {
		return err
	}
	order, err := c.store.GetOrder(orderID)
	if err != nil {
		return err
	}

	if err := c.store.AcceptOrder(orderID, driverID); err != nil {
		return err
	}

	c.notifyCommitted(order, driver, 0)
	return nil
}

// SubmitOffer records a driver's priced bid and tells the admin about
// it. The order must exist; nothing limits how many bids a driver files.
func (c *Coordinator) SubmitOffer(orderID, driverID int64, price float64, comment string) (int64, error) {
	driver, err := c.store.GetDriver(driverID)
	if err != nil {
		return 0, err
	}
	order, err := c.store.GetOrder(orderID)
	if err != nil {
		return 0, err
	}

	offerID, err := c.store.CreateOffer(orderID, driverID, price, comment)
	if err != nil {
		return 0, err
	}

	text := fmt.Sprintf("💵 Bid on order #%d\nDriver: %s (@%s)\nPhone: %s\nPrice: %s",
		order.ID, driver.FullName, driver.Username, driver.Phone, formatPrice(price))
	if comment != "" {
		text += "\nComment: " + comment
	}
	text += fmt.Sprintf("\n\nAccept with: accept_offer_%d_%d", order.ID, driverID)
	if err := c.notifier.SendText(order.AdminID, text); err != nil {
		log.Printf("offer %d: notify admin %d: %v", offerID, order.AdminID, err)
	}

	return offerID, nil
}

// AcceptOffer commits the driver behind a specific bid; the losing bids
// are purged atomically with the acceptance. Post-commit notifications
// to the winner and the admin/summary channel are best-effort.
func (c *Coordinator) AcceptOffer(offerID int64) (*models.Offer, error) {
	offer, err := c.store.AcceptOffer(offerID)
	if err != nil {
		return nil, err
	}

	order, err := c.store.GetOrder(offer.OrderID)
	if err != nil {
		// The acceptance is committed; a missing order row only costs
		// the notifications.
		log.Printf("accept offer %d: load order %d: %v", offerID, offer.OrderID, err)
		return offer, nil
	}
	driver, err := c.store.GetDriver(offer.DriverID)
	if err != nil {
		log.Printf("accept offer %d: load driver %d: %v", offerID, offer.DriverID, err)
		return offer, nil
	}

	if err := c.notifier.SendText(driver.UserID,
		fmt.Sprintf("✅ Your bid of %s on order #%d was accepted.", formatPrice(offer.Price), order.ID)); err != nil {
		log.Printf("accept offer %d: notify driver %d: %v", offerID, driver.UserID, err)
	}

	c.notifyCommitted(order, driver, offer.Price)
	return offer, nil
}

// AcceptBid resolves the most recent bid a driver holds on an order and
// accepts it. This backs the accept_offer_<order>_<driver> action token.
func (c *Coordinator) AcceptBid(orderID, driverID int64) (*models.Offer, error) {
	offers, err := c.store.OffersByOrder(orderID)
	if err != nil {
		return nil, err
	}
	for _, o := range offers { // newest first
		if o.DriverID == driverID {
			return c.AcceptOffer(o.ID)
		}
	}
	return nil, store.ErrNotFound
}

// notifyCommitted tells the admin, and the summary channel when
// configured, that the order is committed. price 0 means the direct
// flow, where no bid was involved.
func (c *Coordinator) notifyCommitted(order *models.Order, driver *models.Driver, price float64) {
	group := "unspecified"
	if driver.GroupID != nil {
		if g, err := c.store.GetGroup(*driver.GroupID); err == nil {
			group = g.Name
		}
	}

	text := fmt.Sprintf("✅ Driver committed to order #%d:\n\nOrder: %s\nDriver: %s\nPhone: %s\nUsername: @%s\nGroup: %s",
		order.ID, truncate(order.Description, 100), driver.FullName, driver.Phone, driver.Username, group)
	if price > 0 {
		text += "\nPrice: " + formatPrice(price)
	}
	text += "\nTime: " + time.Now().Format("2006-01-02 15:04:05")

	if err := c.notifier.SendText(order.AdminID, text); err != nil {
		log.Printf("order %d: notify admin %d: %v", order.ID, order.AdminID, err)
	}

	if c.ordersChannel != 0 {
		channelText := text
		if order.TopicName != "" {
			channelText = fmt.Sprintf("[%s]\n%s", order.TopicName, text)
		}
		if err := c.notifier.SendText(c.ordersChannel, channelText); err != nil {
			log.Printf("order %d: notify channel %d: %v", order.ID, c.ordersChannel, err)
		}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func formatPrice(price float64) string {
	return fmt.Sprintf("%.2f", price)
}

// IsTaken reports whether an order already has a committed acceptance.
// Advisory only: callers may use it for a cheap early message, but the
// commit decision always goes through the atomic accept paths.
func (c *Coordinator) IsTaken(orderID int64) bool {
	_, err := c.store.AcceptanceByOrder(orderID)
	return err == nil
}
