package dispatch

import (
	"github.com/halmstad/cargo-dispatch-bot/internal/dialog"
	"github.com/halmstad/cargo-dispatch-bot/internal/identity"
	"github.com/halmstad/cargo-dispatch-bot/internal/models"
	"github.com/halmstad/cargo-dispatch-bot/internal/store"
)

// Facade is the single surface the chat handlers call. It composes the
// dialog machine, the dispatch engine and the acceptance coordinator
// over one store and one allow-list.
type Facade struct {
	Dialogs *dialog.Machine

	engine        *Engine
	coordinator   *Coordinator
	store         *store.Store
	admins        *identity.AllowList
	ordersChannel int64
	historyLimit  int
}

// FacadeOpts holds parameters for NewFacade.
type FacadeOpts struct {
	Store         *store.Store
	Notifier      Notifier
	Admins        *identity.AllowList
	OrdersChannel int64
	HistoryLimit  int
}

// NewFacade wires the core together. The dialog machine's lookups are
// bound to the store and the allow-list here, so dialogs re-check
// authorization and resolve handles/groups without knowing storage.
func NewFacade(opts FacadeOpts) *Facade {
	f := &Facade{
		engine:        NewEngine(opts.Store, opts.Notifier),
		coordinator:   NewCoordinator(opts.Store, opts.Notifier, opts.OrdersChannel),
		store:         opts.Store,
		admins:        opts.Admins,
		ordersChannel: opts.OrdersChannel,
		historyLimit:  opts.HistoryLimit,
	}
	if f.historyLimit <= 0 {
		f.historyLimit = 10
	}

	f.Dialogs = dialog.NewMachine(dialog.Options{
		IsAdmin: opts.Admins.IsAdmin,
		LookupUser: func(username string) (int64, bool) {
			user, err := opts.Store.UserByUsername(username)
			if err != nil {
				return 0, false
			}
			return user.ID, true
		},
		LookupGroup: func(name string) (int64, bool) {
			group, err := opts.Store.GroupByName(name)
			if err != nil {
				return 0, false
			}
			return group.ID, true
		},
	})
	return f
}

// TopicBroadcasts reports whether broadcasts collect a topic name for
// the configured summary channel.
func (f *Facade) TopicBroadcasts() bool {
	return f.ordersChannel != 0
}

// IsAdmin reports whether the caller is on the admin allow-list.
func (f *Facade) IsAdmin(id int64, username string) bool {
	return f.admins.IsAdmin(id, username)
}

// RegisterContact records a user's first contact (or refreshes an
// existing profile) and returns the effective role for menu selection.
// Admin recognition escalates the stored role.
func (f *Facade) RegisterContact(p dialog.Participant, firstName, lastName string) (models.Role, error) {
	if err := f.store.UpsertUser(p.ID, p.Username, firstName, lastName); err != nil {
		return "", err
	}

	if f.admins.IsAdmin(p.ID, p.Username) {
		if err := f.store.SetUserRole(p.ID, models.RoleAdmin); err != nil {
			return "", err
		}
		return models.RoleAdmin, nil
	}

	user, err := f.store.GetUser(p.ID)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

// SavePhone back-fills a user's phone number from a shared contact card.
func (f *Facade) SavePhone(userID int64, phone string) error {
	return f.store.UpdateUserPhone(userID, phone)
}

// UserByPhone resolves a phone number to a registered user.
func (f *Facade) UserByPhone(phone string) (*models.User, error) {
	return f.store.UserByPhone(phone)
}

// AddDriver attaches a driver record from a completed add-driver dialog.
func (f *Facade) AddDriver(d dialog.Draft) error {
	return f.store.CreateDriver(d.DriverUserID, d.DriverFullName, d.DriverPhone, d.DriverGroupID)
}

// RemoveDriver deletes a driver by handle, purging pending offers and
// reverting the role; acceptance history stays.
func (f *Facade) RemoveDriver(username string) error {
	return f.store.RemoveDriver(username)
}

// CreateGroup adds a capacity group; a duplicate name yields
// store.ErrConflict.
func (f *Facade) CreateGroup(name string) (int64, error) {
	return f.store.CreateGroup(name)
}

// RemoveGroup deletes a group; its drivers and past orders keep a
// dangling reference that readers render as "unspecified".
func (f *Facade) RemoveGroup(id int64) error {
	return f.store.DeleteGroup(id)
}

// Groups lists every capacity group.
func (f *Facade) Groups() ([]models.Group, error) {
	return f.store.AllGroups()
}

// Drivers lists every driver.
func (f *Facade) Drivers() ([]models.Driver, error) {
	return f.store.AllDrivers()
}

// Users lists every registered user.
func (f *Facade) Users() ([]models.User, error) {
	return f.store.AllUsers()
}

// GroupName resolves a group id for display; dangling references left
// by deleted groups degrade to "unspecified".
func (f *Facade) GroupName(id int64) string {
	group, err := f.store.GetGroup(id)
	if err != nil {
		return "unspecified"
	}
	return group.Name
}

// PublishOrder materializes an order from a completed broadcast dialog
// and fans it out. Returns the order id, the audience size and the
// number of successful deliveries.
func (f *Facade) PublishOrder(adminID int64, d dialog.Draft) (orderID int64, audience, delivered int, err error) {
	orderID, err = f.engine.CreateOrder(adminID, d.Text, d.TargetGroupID, d.Photos, d.TopicName)
	if err != nil {
		return 0, 0, 0, err
	}
	order, err := f.store.GetOrder(orderID)
	if err != nil {
		return 0, 0, 0, err
	}
	drivers, err := f.engine.ResolveAudience(order)
	if err != nil {
		return 0, 0, 0, err
	}
	delivered = f.engine.Broadcast(order, drivers)
	return orderID, len(drivers), delivered, nil
}

// AcceptOrderDirect is the one-tap accept path.
func (f *Facade) AcceptOrderDirect(orderID, driverID int64) error {
	return f.coordinator.AcceptOrderDirect(orderID, driverID)
}

// SubmitOffer files a priced bid from a completed price dialog.
func (f *Facade) SubmitOffer(driverID int64, d dialog.Draft) (int64, error) {
	return f.coordinator.SubmitOffer(d.OrderID, driverID, d.Price, d.Comment)
}

// AcceptBid commits the driver's most recent bid on an order.
func (f *Facade) AcceptBid(orderID, driverID int64) (*models.Offer, error) {
	return f.coordinator.AcceptBid(orderID, driverID)
}

// OrderTaken is an advisory read used only for early user-facing
// messages, never for the commit decision.
func (f *Facade) OrderTaken(orderID int64) bool {
	return f.coordinator.IsTaken(orderID)
}

// MyOrders returns a driver's accepted-order history, newest first.
func (f *Facade) MyOrders(driverID int64) ([]models.AcceptedOrder, error) {
	return f.store.DriverOrders(driverID, f.historyLimit)
}

// IsDriver reports whether a user has a driver record attached.
func (f *Facade) IsDriver(id int64) bool {
	_, err := f.store.GetDriver(id)
	return err == nil
}
