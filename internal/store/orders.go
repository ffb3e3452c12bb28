package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/halmstad/cargo-dispatch-bot/internal/models"
)

// CreateOrder records a new dispatch job. groupID nil targets all
// groups; photos are opaque media references serialized as JSON.
func (s *Store) CreateOrder(adminID int64, description string, groupID *int64, photos []string, topicName string) (int64, error) {
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return 0, fmt.Errorf("store: marshal photos: %w", err)
	}

	result, err := s.conn.Exec(
		`INSERT INTO orders (admin_id, description, group_id, photos, topic_name) VALUES (?, ?, ?, ?, ?)`,
		adminID, description, groupID, string(photosJSON), topicName,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func scanOrder(row *sql.Row) (*models.Order, error) {
	var o models.Order
	var groupID sql.NullInt64
	var photosJSON, topicName sql.NullString
	err := row.Scan(&o.ID, &o.AdminID, &o.Description, &groupID, &photosJSON, &topicName, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if groupID.Valid {
		gid := groupID.Int64
		o.GroupID = &gid
	}
	if photosJSON.Valid && photosJSON.String != "" {
		if err := json.Unmarshal([]byte(photosJSON.String), &o.Photos); err != nil {
			return nil, fmt.Errorf("store: unmarshal photos for order %d: %w", o.ID, err)
		}
	}
	o.TopicName = topicName.String
	return &o, nil
}

// GetOrder retrieves an order by id.
func (s *Store) GetOrder(id int64) (*models.Order, error) {
	return scanOrder(s.conn.QueryRow(
		`SELECT order_id, admin_id, description, group_id, photos, topic_name, created_at
		 FROM orders WHERE order_id = ?`, id))
}

// SetOrderTopic attaches a topic label to an existing order. This is the
// only mutation an order permits after creation.
func (s *Store) SetOrderTopic(id int64, topicName string) error {
	result, err := s.conn.Exec(`UPDATE orders SET topic_name = ? WHERE order_id = ?`, topicName, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DriverOrders returns a driver's accepted orders, newest first.
func (s *Store) DriverOrders(driverID int64, limit int) ([]models.AcceptedOrder, error) {
	rows, err := s.conn.Query(
		`SELECT o.order_id, o.admin_id, o.description, o.group_id, o.photos, o.topic_name, o.created_at, a.accepted_at
		 FROM orders o JOIN acceptances a ON o.order_id = a.order_id
		 WHERE a.driver_id = ? ORDER BY a.accepted_at DESC LIMIT ?`,
		driverID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.AcceptedOrder
	for rows.Next() {
		var ao models.AcceptedOrder
		var groupID sql.NullInt64
		var photosJSON, topicName sql.NullString
		if err := rows.Scan(&ao.ID, &ao.AdminID, &ao.Description, &groupID, &photosJSON, &topicName, &ao.CreatedAt, &ao.AcceptedAt); err != nil {
			return nil, err
		}
		if groupID.Valid {
			gid := groupID.Int64
			ao.GroupID = &gid
		}
		if photosJSON.Valid && photosJSON.String != "" {
			if err := json.Unmarshal([]byte(photosJSON.String), &ao.Photos); err != nil {
				return nil, fmt.Errorf("store: unmarshal photos for order %d: %w", ao.ID, err)
			}
		}
		ao.TopicName = topicName.String
		orders = append(orders, ao)
	}
	return orders, rows.Err()
}

// CreateOffer records a driver's priced bid against an order. Nothing
// forbids a driver from bidding more than once on the same order; later
// bids stand alongside earlier ones until an acceptance purges them.
func (s *Store) CreateOffer(orderID, driverID int64, price float64, comment string) (int64, error) {
	result, err := s.conn.Exec(
		`INSERT INTO offers (order_id, driver_id, price, comment) VALUES (?, ?, ?, ?)`,
		orderID, driverID, price, comment,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetOffer retrieves a single offer by id.
func (s *Store) GetOffer(id int64) (*models.Offer, error) {
	var o models.Offer
	var comment sql.NullString
	err := s.conn.QueryRow(
		`SELECT offer_id, order_id, driver_id, price, comment, created_at
		 FROM offers WHERE offer_id = ?`, id,
	).Scan(&o.ID, &o.OrderID, &o.DriverID, &o.Price, &comment, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Comment = comment.String
	return &o, nil
}

// OffersByOrder returns the open offers on an order with the bidding
// drivers' contact details, newest first.
func (s *Store) OffersByOrder(orderID int64) ([]models.Offer, error) {
	rows, err := s.conn.Query(
		`SELECT f.offer_id, f.order_id, f.driver_id, f.price, f.comment, f.created_at,
		        d.full_name, d.phone, u.username
		 FROM offers f
		 JOIN drivers d ON f.driver_id = d.user_id
		 JOIN users u ON d.user_id = u.user_id
		 WHERE f.order_id = ? ORDER BY f.created_at DESC, f.offer_id DESC`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []models.Offer
	for rows.Next() {
		var o models.Offer
		var comment, username sql.NullString
		if err := rows.Scan(&o.ID, &o.OrderID, &o.DriverID, &o.Price, &comment, &o.CreatedAt,
			&o.FullName, &o.Phone, &username); err != nil {
			return nil, err
		}
		o.Comment = comment.String
		o.Username = username.String
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

// AcceptOrder commits a driver to an order via an atomic insert-if-absent
// on the acceptances primary key. Exactly one concurrent caller succeeds;
// every other caller gets ErrAlreadyTaken. There is no read-then-write
// window: the primary key is the whole mechanism.
func (s *Store) AcceptOrder(orderID, driverID int64) error {
	result, err := s.conn.Exec(
		`INSERT INTO acceptances (order_id, driver_id) VALUES (?, ?)
		 ON CONFLICT(order_id) DO NOTHING`,
		orderID, driverID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyTaken
	}
	return nil
}

// AcceptOffer commits the driver behind a specific bid. The lookup,
// the insert-if-absent acceptance and the purge of losing bids run in
// one transaction: two admins accepting different bids on the same order
// concurrently still produce exactly one acceptance, and on the losing
// side every offer is left untouched.
func (s *Store) AcceptOffer(offerID int64) (*models.Offer, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var offer models.Offer
	var comment sql.NullString
	err = tx.QueryRow(
		`SELECT offer_id, order_id, driver_id, price, comment, created_at
		 FROM offers WHERE offer_id = ?`, offerID,
	).Scan(&offer.ID, &offer.OrderID, &offer.DriverID, &offer.Price, &comment, &offer.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	offer.Comment = comment.String

	result, err := tx.Exec(
		`INSERT INTO acceptances (order_id, driver_id) VALUES (?, ?)
		 ON CONFLICT(order_id) DO NOTHING`,
		offer.OrderID, offer.DriverID,
	)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrAlreadyTaken
	}

	// Losing bids are not retained: stale accept buttons must never
	// reference a withdrawn offer.
	if _, err := tx.Exec(
		`DELETE FROM offers WHERE order_id = ? AND offer_id != ?`,
		offer.OrderID, offer.ID,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &offer, nil
}

// AcceptanceByOrder returns the committed acceptance for an order with
// the winning driver's contact details, or ErrNotFound while the order
// is still open.
func (s *Store) AcceptanceByOrder(orderID int64) (*models.Acceptance, error) {
	var a models.Acceptance
	var fullName, phone, username sql.NullString
	err := s.conn.QueryRow(
		`SELECT a.order_id, a.driver_id, a.accepted_at, d.full_name, d.phone, u.username
		 FROM acceptances a
		 LEFT JOIN drivers d ON a.driver_id = d.user_id
		 LEFT JOIN users u ON a.driver_id = u.user_id
		 WHERE a.order_id = ?`, orderID,
	).Scan(&a.OrderID, &a.DriverID, &a.AcceptedAt, &fullName, &phone, &username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.FullName = fullName.String
	a.Phone = phone.String
	a.Username = username.String
	return &a, nil
}
