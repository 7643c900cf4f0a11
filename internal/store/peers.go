package store

import (
	"database/sql"
	"fmt"

	"github.com/hgdev/sonos-bridge/internal/device"
)

// PeerRow is one persisted peer.
type PeerRow struct {
	ID       int64
	Serial   string
	IP       string
	RinconID string
	Model    string
	Name     string
}

// ParameterRow is one persisted parameter value.
type ParameterRow struct {
	Channel int
	Key     string
	Value   []byte
}

// Store wraps the database pair with the queries the bridge needs.
type Store struct {
	db *DBPair
}

// New creates a Store over an initialized database pair.
func New(db *DBPair) *Store {
	return &Store{db: db}
}

// Close closes the underlying database connections.
func (s *Store) Close() error { return s.db.Close() }

// UpsertPeer inserts the peer or refreshes its mutable columns, returning the
// row ID either way.
func (s *Store) UpsertPeer(p PeerRow) (int64, error) {
	_, err := s.db.Writer().Exec(`
		INSERT INTO peers (serial, ip, rincon_id, model, name, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			ip = excluded.ip,
			rincon_id = excluded.rincon_id,
			model = excluded.model,
			name = excluded.name,
			last_seen_at = excluded.last_seen_at
	`, p.Serial, p.IP, p.RinconID, p.Model, p.Name, nowISO())
	if err != nil {
		return 0, fmt.Errorf("upsert peer %s: %w", p.Serial, err)
	}

	var id int64
	err = s.db.Writer().QueryRow("SELECT id FROM peers WHERE serial = ?", p.Serial).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read peer id %s: %w", p.Serial, err)
	}
	return id, nil
}

// ListPeers returns every persisted peer.
func (s *Store) ListPeers() ([]PeerRow, error) {
	rows, err := s.db.Reader().Query(`
		SELECT id, serial, ip, rincon_id, model, name FROM peers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	var out []PeerRow
	for rows.Next() {
		var p PeerRow
		if err := rows.Scan(&p.ID, &p.Serial, &p.IP, &p.RinconID, &p.Model, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePeer removes the peer. Parameters and links cascade.
func (s *Store) DeletePeer(id int64) error {
	_, err := s.db.Writer().Exec("DELETE FROM peers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete peer %d: %w", id, err)
	}
	return nil
}

// UpdatePeerIP records a changed address, typically after a discovery sweep.
func (s *Store) UpdatePeerIP(id int64, ip string) error {
	_, err := s.db.Writer().Exec(
		"UPDATE peers SET ip = ?, last_seen_at = ? WHERE id = ?", ip, nowISO(), id)
	if err != nil {
		return fmt.Errorf("update peer %d ip: %w", id, err)
	}
	return nil
}

// TouchPeer refreshes the peer's last_seen_at timestamp.
func (s *Store) TouchPeer(id int64) error {
	_, err := s.db.Writer().Exec(
		"UPDATE peers SET last_seen_at = ? WHERE id = ?", nowISO(), id)
	return err
}

// SaveParameter upserts one binary parameter value. Implements the parameter
// store's Persister.
func (s *Store) SaveParameter(peerID int64, channel int, key string, data []byte) error {
	_, err := s.db.Writer().Exec(`
		INSERT INTO peer_parameters (peer_id, channel, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(peer_id, channel, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, peerID, channel, key, data, nowISO())
	if err != nil {
		return fmt.Errorf("save parameter %d/%d/%s: %w", peerID, channel, key, err)
	}
	return nil
}

// LoadParameters returns all persisted values for one peer.
func (s *Store) LoadParameters(peerID int64) ([]ParameterRow, error) {
	rows, err := s.db.Reader().Query(`
		SELECT channel, key, value FROM peer_parameters WHERE peer_id = ?
	`, peerID)
	if err != nil {
		return nil, fmt.Errorf("load parameters %d: %w", peerID, err)
	}
	defer rows.Close()

	var out []ParameterRow
	for rows.Next() {
		var r ParameterRow
		if err := rows.Scan(&r.Channel, &r.Key, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceLinks rewrites the link list of one peer channel atomically. The
// sender flag rides along so the role survives a restart.
func (s *Store) ReplaceLinks(peerID int64, channel int, links []device.Link) error {
	tx, err := s.db.Writer().Begin()
	if err != nil {
		return fmt.Errorf("begin links tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM peer_links WHERE peer_id = ? AND channel = ?", peerID, channel); err != nil {
		return fmt.Errorf("clear links %d/%d: %w", peerID, channel, err)
	}
	for _, l := range links {
		if _, err := tx.Exec(
			"INSERT INTO peer_links (peer_id, channel, remote_serial, is_sender) VALUES (?, ?, ?, ?)",
			peerID, channel, l.RemoteSerial, l.Sender); err != nil {
			return fmt.Errorf("insert link %d/%d/%s: %w", peerID, channel, l.RemoteSerial, err)
		}
	}
	return tx.Commit()
}

// LoadLinks returns the link lists of one peer keyed by channel.
func (s *Store) LoadLinks(peerID int64) (map[int][]device.Link, error) {
	rows, err := s.db.Reader().Query(`
		SELECT channel, remote_serial, is_sender FROM peer_links
		WHERE peer_id = ? ORDER BY channel, remote_serial
	`, peerID)
	if err != nil {
		return nil, fmt.Errorf("load links %d: %w", peerID, err)
	}
	defer rows.Close()

	out := make(map[int][]device.Link)
	for rows.Next() {
		var channel int
		var l device.Link
		if err := rows.Scan(&channel, &l.RemoteSerial, &l.Sender); err != nil {
			return nil, err
		}
		out[channel] = append(out[channel], l)
	}
	return out, rows.Err()
}

// PeerBySerial looks one peer up by serial number.
func (s *Store) PeerBySerial(serial string) (PeerRow, error) {
	var p PeerRow
	err := s.db.Reader().QueryRow(`
		SELECT id, serial, ip, rincon_id, model, name FROM peers WHERE serial = ?
	`, serial).Scan(&p.ID, &p.Serial, &p.IP, &p.RinconID, &p.Model, &p.Name)
	if err == sql.ErrNoRows {
		return PeerRow{}, err
	}
	if err != nil {
		return PeerRow{}, fmt.Errorf("peer by serial %s: %w", serial, err)
	}
	return p, nil
}
