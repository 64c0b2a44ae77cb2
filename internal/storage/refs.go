// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"

	"github.com/jeranaias/relay-tui/internal/model"
)

// =============================================================================
// REFERENCE ENTITY CACHES
// =============================================================================

// CacheUser stores a user fetched from the remote store. Only the remote
// store originates users; this is purely a local mirror for offline reads.
func (c *Cache) CacheUser(u model.User) error {
	active := 0
	if u.IsActive {
		active = 1
	}
	_, err := c.db.Exec(`
		INSERT INTO users (id, username, is_active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    username = excluded.username,
		    is_active = excluded.is_active`,
		u.ID, u.Username, active)
	if err != nil {
		return storageErr("user", err)
	}
	return nil
}

// UserByUsername returns a cached active user, or ErrRecordNotFound.
func (c *Cache) UserByUsername(username string) (*model.User, error) {
	var (
		u      model.User
		active int
	)
	err := c.db.QueryRow(
		`SELECT id, username, is_active FROM users WHERE username = ? AND is_active = 1`,
		username).Scan(&u.ID, &u.Username, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, storageErr("user", err)
	}
	u.IsActive = active != 0
	return &u, nil
}

// CacheMachine stores or refreshes a machine row. first_seen is preserved on
// conflict; last_seen always advances.
func (c *Cache) CacheMachine(m model.Machine) error {
	_, err := c.db.Exec(`
		INSERT INTO machines (id, hostname, first_seen, last_seen)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    hostname = excluded.hostname,
		    last_seen = excluded.last_seen`,
		m.ID, m.Hostname, timeToMs(m.FirstSeen), timeToMs(m.LastSeen))
	if err != nil {
		return storageErr("machine", err)
	}
	return nil
}

// Machines lists the known machines, most recently seen first.
func (c *Cache) Machines() ([]model.Machine, error) {
	rows, err := c.db.Query(
		`SELECT id, hostname, first_seen, last_seen FROM machines ORDER BY last_seen DESC`)
	if err != nil {
		return nil, storageErr("machine", err)
	}
	defer rows.Close()

	var machines []model.Machine
	for rows.Next() {
		var (
			m               model.Machine
			firstMs, lastMs int64
		)
		if err := rows.Scan(&m.ID, &m.Hostname, &firstMs, &lastMs); err != nil {
			return nil, storageErr("machine", err)
		}
		m.FirstSeen = msToTime(firstMs)
		m.LastSeen = msToTime(lastMs)
		machines = append(machines, m)
	}
	return machines, rows.Err()
}
