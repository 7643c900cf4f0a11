package store

const schemaSQL = `
-- ===========================================================================
-- PEERS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS peers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  serial TEXT NOT NULL UNIQUE,
  ip TEXT NOT NULL,
  rincon_id TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  last_seen_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_peers_rincon ON peers(rincon_id);

-- ===========================================================================
-- PARAMETER VALUES (binary encoding is the source of truth)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS peer_parameters (
  peer_id INTEGER NOT NULL,
  channel INTEGER NOT NULL,
  key TEXT NOT NULL,
  value BLOB NOT NULL,
  updated_at TEXT NOT NULL DEFAULT (datetime('now')),
  PRIMARY KEY (peer_id, channel, key),
  FOREIGN KEY (peer_id) REFERENCES peers(id) ON DELETE CASCADE
);

-- ===========================================================================
-- PEER LINKS (pairwise group membership)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS peer_links (
  peer_id INTEGER NOT NULL,
  channel INTEGER NOT NULL,
  remote_serial TEXT NOT NULL,
  is_sender INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (peer_id, channel, remote_serial),
  FOREIGN KEY (peer_id) REFERENCES peers(id) ON DELETE CASCADE
);
`
