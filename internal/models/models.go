package models

import "time"

type Role string

const (
	RoleGuest  Role = "guest"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// User is anyone who has contacted the bot. Created on first /start and
// never deleted; the role escalates when a Driver record is attached or
// the allow-list recognizes the user as an admin.
type User struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
	Role      Role
	CreatedAt time.Time
}

// DisplayName returns the user's first and last name joined.
func (u User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Group is a named capacity class drivers belong to, e.g. "5 ton".
type Group struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Driver extends a User with dispatch-relevant details. GroupID is nil
// for drivers not assigned to any capacity group.
type Driver struct {
	UserID    int64
	FullName  string
	Phone     string
	GroupID   *int64
	Username  string // joined from users for display
	CreatedAt time.Time
}

// Order is a dispatch job posted by an admin. GroupID nil means the
// broadcast targets every current group. Photos holds opaque media
// references owned by the chat platform, never raw bytes.
type Order struct {
	ID          int64
	AdminID     int64
	Description string
	GroupID     *int64
	Photos      []string
	TopicName   string
	CreatedAt   time.Time
}

// Offer is a driver's priced bid against an open order. All offers for
// an order except the accepted one are purged the moment one is accepted.
type Offer struct {
	ID        int64
	OrderID   int64
	DriverID  int64
	Price     float64
	Comment   string
	CreatedAt time.Time

	// Joined driver contact details, populated by list queries.
	FullName string
	Phone    string
	Username string
}

// Acceptance is the single binding commitment of a driver to an order.
// OrderID is the primary key: at most one acceptance may ever exist per
// order, and the storage layer enforces it.
type Acceptance struct {
	OrderID    int64
	DriverID   int64
	AcceptedAt time.Time

	FullName string
	Phone    string
	Username string
}

// AcceptedOrder is an order joined with its acceptance timestamp, as
// returned by driver history queries.
type AcceptedOrder struct {
	Order
	AcceptedAt time.Time
}
