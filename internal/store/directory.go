package store

import (
	"database/sql"
	"errors"

	"github.com/halmstad/cargo-dispatch-bot/internal/models"
)

// UpsertUser records a user's first contact, or refreshes the profile
// fields of an existing user. The role and phone of an existing user are
// left alone: role escalation and phone back-fill have their own paths.
func (s *Store) UpsertUser(id int64, username, firstName, lastName string) error {
	_, err := s.conn.Exec(
		`INSERT INTO users (user_id, username, first_name, last_name, role) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET username = ?, first_name = ?, last_name = ?`,
		id, username, firstName, lastName, models.RoleGuest,
		username, firstName, lastName,
	)
	return err
}

// UpdateUserPhone back-fills the phone number of an existing user.
func (s *Store) UpdateUserPhone(id int64, phone string) error {
	result, err := s.conn.Exec(`UPDATE users SET phone = ? WHERE user_id = ?`, phone, id)
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

// SetUserRole updates a user's role.
func (s *Store) SetUserRole(id int64, role models.Role) error {
	_, err := s.conn.Exec(`UPDATE users SET role = ? WHERE user_id = ?`, role, id)
	return err
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var username, firstName, lastName, phone sql.NullString
	err := row.Scan(&u.ID, &username, &firstName, &lastName, &phone, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Phone = phone.String
	return &u, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(id int64) (*models.User, error) {
	return scanUser(s.conn.QueryRow(
		`SELECT user_id, username, first_name, last_name, phone, role, created_at
		 FROM users WHERE user_id = ?`, id))
}

// UserByUsername retrieves a user by chat handle.
func (s *Store) UserByUsername(username string) (*models.User, error) {
	return scanUser(s.conn.QueryRow(
		`SELECT user_id, username, first_name, last_name, phone, role, created_at
		 FROM users WHERE username = ?`, username))
}

// UserByPhone retrieves a user by phone number.
func (s *Store) UserByPhone(phone string) (*models.User, error) {
	return scanUser(s.conn.QueryRow(
		`SELECT user_id, username, first_name, last_name, phone, role, created_at
		 FROM users WHERE phone = ?`, phone))
}

// AllUsers returns every registered user, oldest first.
func (s *Store) AllUsers() ([]models.User, error) {
	rows, err := s.conn.Query(
		`SELECT user_id, username, first_name, last_name, phone, role, created_at
		 FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var username, firstName, lastName, phone sql.NullString
		if err := rows.Scan(&u.ID, &username, &firstName, &lastName, &phone, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.Username = username.String
		u.FirstName = firstName.String
		u.LastName = lastName.String
		u.Phone = phone.String
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateGroup adds a named capacity group. A duplicate name yields
// ErrConflict.
func (s *Store) CreateGroup(name string) (int64, error) {
	result, err := s.conn.Exec(`INSERT INTO groups (name) VALUES (?)`, name)
	if err != nil {
		return 0, mapUnique(err)
	}
	return result.LastInsertId()
}

// GetGroup retrieves a group by id.
func (s *Store) GetGroup(id int64) (*models.Group, error) {
	var g models.Group
	err := s.conn.QueryRow(
		`SELECT group_id, name, created_at FROM groups WHERE group_id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GroupByName retrieves a group by its exact name.
func (s *Store) GroupByName(name string) (*models.Group, error) {
	var g models.Group
	err := s.conn.QueryRow(
		`SELECT group_id, name, created_at FROM groups WHERE name = ?`, name,
	).Scan(&g.ID, &g.Name, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// AllGroups returns every group ordered by name.
func (s *Store) AllGroups() ([]models.Group, error) {
	rows, err := s.conn.Query(`SELECT group_id, name, created_at FROM groups ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup removes a group. Drivers and historical orders keep their
// now-dangling group reference; readers degrade it to "unspecified".
func (s *Store) DeleteGroup(id int64) error {
	result, err := s.conn.Exec(`DELETE FROM groups WHERE group_id = ?`, id)
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

// CreateDriver attaches a Driver record to an existing user and escalates
// the user's role to driver.
func (s *Store) CreateDriver(userID int64, fullName, phone string, groupID *int64) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO drivers (user_id, full_name, phone, group_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET full_name = ?, phone = ?, group_id = ?`,
		userID, fullName, phone, groupID,
		fullName, phone, groupID,
	)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE users SET role = ?, phone = ? WHERE user_id = ?`,
		models.RoleDriver, phone, userID); err != nil {
		return err
	}

	return tx.Commit()
}

func scanDrivers(rows *sql.Rows) ([]models.Driver, error) {
	defer rows.Close()

	var drivers []models.Driver
	for rows.Next() {
		var d models.Driver
		var groupID sql.NullInt64
		var username sql.NullString
		if err := rows.Scan(&d.UserID, &d.FullName, &d.Phone, &groupID, &d.CreatedAt, &username); err != nil {
			return nil, err
		}
		if groupID.Valid {
			gid := groupID.Int64
			d.GroupID = &gid
		}
		d.Username = username.String
		drivers = append(drivers, d)
	}
	return drivers, rows.Err()
}

// GetDriver retrieves a driver by user id.
func (s *Store) GetDriver(userID int64) (*models.Driver, error) {
	rows, err := s.conn.Query(
		`SELECT d.user_id, d.full_name, d.phone, d.group_id, d.created_at, u.username
		 FROM drivers d JOIN users u ON d.user_id = u.user_id
		 WHERE d.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	drivers, err := scanDrivers(rows)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return nil, ErrNotFound
	}
	return &drivers[0], nil
}

// DriverByUsername retrieves a driver by the attached user's handle.
func (s *Store) DriverByUsername(username string) (*models.Driver, error) {
	rows, err := s.conn.Query(
		`SELECT d.user_id, d.full_name, d.phone, d.group_id, d.created_at, u.username
		 FROM drivers d JOIN users u ON d.user_id = u.user_id
		 WHERE u.username = ?`, username)
	if err != nil {
		return nil, err
	}
	drivers, err := scanDrivers(rows)
	if err != nil {
		return nil, err
	}
	if len(drivers) == 0 {
		return nil, ErrNotFound
	}
	return &drivers[0], nil
}

// AllDrivers returns every driver with joined handle, de-duplicated by
// driver id.
func (s *Store) AllDrivers() ([]models.Driver, error) {
	rows, err := s.conn.Query(
		`SELECT d.user_id, d.full_name, d.phone, d.group_id, d.created_at, u.username
		 FROM drivers d JOIN users u ON d.user_id = u.user_id
		 GROUP BY d.user_id ORDER BY d.full_name`)
	if err != nil {
		return nil, err
	}
	return scanDrivers(rows)
}

// DriversByGroup returns the drivers assigned to a group, each exactly
// once even when join rows are duplicated.
func (s *Store) DriversByGroup(groupID int64) ([]models.Driver, error) {
	rows, err := s.conn.Query(
		`SELECT d.user_id, d.full_name, d.phone, d.group_id, d.created_at, u.username
		 FROM drivers d JOIN users u ON d.user_id = u.user_id
		 WHERE d.group_id = ? GROUP BY d.user_id`, groupID)
	if err != nil {
		return nil, err
	}
	return scanDrivers(rows)
}

// UpdateDriverGroup reassigns a driver to a different group.
func (s *Store) UpdateDriverGroup(userID int64, groupID *int64) error {
	result, err := s.conn.Exec(`UPDATE drivers SET group_id = ? WHERE user_id = ?`, groupID, userID)
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

// RemoveDriver deletes a driver by handle: pending offers are purged and
// the user's role reverts to guest. Acceptance and order history stay.
func (s *Store) RemoveDriver(username string) error {
	user, err := s.UserByUsername(username)
	if err != nil {
		return err
	}

	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM offers WHERE driver_id = ?`, user.ID); err != nil {
		return err
	}

	result, err := tx.Exec(`DELETE FROM drivers WHERE user_id = ?`, user.ID)
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

	if _, err := tx.Exec(`UPDATE users SET role = ? WHERE user_id = ?`,
		models.RoleGuest, user.ID); err != nil {
		return err
	}

	return tx.Commit()
}
