// Package dispatch contains the order lifecycle: creating and
// broadcasting orders, and committing exactly one driver to each,
// whether by direct accept or by priced bidding.
package dispatch

import (
	"fmt"
	"log"

	"github.com/halmstad/cargo-dispatch-bot/internal/models"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

// Notifier delivers messages to a single chat. Every delivery is
// best-effort: a returned error is logged and skipped by callers, never
// propagated into a broadcast or an acceptance decision.
type Notifier interface {
	// SendText delivers a plain message.
	SendText(chatID int64, text string) error
	// SendOrder delivers an order broadcast (caption plus photo
	// references) with the accept affordance for orderID attached.
	SendOrder(chatID int64, orderID int64, caption string, photos []string) error
}

// Engine materializes orders and fans out their broadcasts.
type Engine struct {
	store    *store.Store
	notifier Notifier
}

// NewEngine creates an Engine.
func NewEngine(st *store.Store, n Notifier) *Engine {
	return &Engine{store: st, notifier: n}
}

// CreateOrder records a new order. groupID nil means the broadcast will
// target every group that exists at broadcast time.
func (e *Engine) CreateOrder(adminID int64, description string, groupID *int64, photos []string, topicName string) (int64, error) {
	return e.store.CreateOrder(adminID, description, groupID, photos, topicName)
}

// ResolveAudience resolves an order's target drivers at broadcast time.
// A targeted group that has since been deleted simply yields an empty
// audience; a nil target unions the drivers of every current group.
// Drivers are de-duplicated by id.
func (e *Engine) ResolveAudience(order *models.Order) ([]models.Driver, error) {
	if order.GroupID != nil {
		return e.store.DriversByGroup(*order.GroupID)
	}

	groups, err := e.store.AllGroups()
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var audience []models.Driver
	for _, g := range groups {
		drivers, err := e.store.DriversByGroup(g.ID)
		if err != nil {
			return nil, err
		}
		for _, d := range drivers {
			if seen[d.UserID] {
				continue
			}
			seen[d.UserID] = true
			audience = append(audience, d)
		}
	}
	return audience, nil
}

// Broadcast delivers the order to every driver in the audience. A
// failure for one driver is logged and skipped; the rest of the
// audience is still served. Returns the number of successful deliveries.
func (e *Engine) Broadcast(order *models.Order, audience []models.Driver) int {
	caption := fmt.Sprintf("📦 New order #%d:\n\n%s", order.ID, order.Description)

	delivered := 0
	for _, d := range audience {
		if err := e.notifier.SendOrder(d.UserID, order.ID, caption, order.Photos); err != nil {
			log.Printf("broadcast: order %d to driver %d: %v", order.ID, d.UserID, err)
			continue
		}
		delivered++
	}
	return delivered
}
