package server

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	blacklist "github.com/xpdustry/simple-blacklist"

	_ "modernc.org/sqlite"
)

const playersSchema = `
CREATE TABLE IF NOT EXISTS players (
	identity     TEXT PRIMARY KEY,
	last_name    TEXT NOT NULL,
	last_address TEXT NOT NULL,
	times_joined INTEGER NOT NULL DEFAULT 0,
	banned       INTEGER NOT NULL DEFAULT 0,
	last_seen    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS banned_addresses (
	address   TEXT PRIMARY KEY,
	banned_at INTEGER NOT NULL
);
`

// Player is what the host remembers about an identity.
type Player struct {
	Identity    string `db:"identity"`
	LastName    string `db:"last_name"`
	LastAddress string `db:"last_address"`
	// TimesJoined stays 0 for identities recorded only so they could be banned.
	TimesJoined int   `db:"times_joined"`
	Banned      bool  `db:"banned"`
	LastSeen    int64 `db:"last_seen"`
}

// Players stores player records and bans in SQLite.
type Players struct {
	db *sqlx.DB
}

func OpenPlayers(path string) (*Players, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, blacklist.WithStack(err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(playersSchema); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating schema in %s", path)
	}
	return &Players{db: db}, nil
}

func (p *Players) Close() error {
	return p.db.Close()
}

// Get returns the player with identity, and false when there is none.
func (p *Players) Get(ctx context.Context, identity string) (*Player, bool, error) {
	result := &Player{}
	err := p.db.GetContext(ctx, result, `SELECT * FROM players WHERE identity = ?`, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, blacklist.WithStack(err)
	}
	return result, true, nil
}

// RecordJoin creates or updates the record of an admitted player.
func (p *Players) RecordJoin(ctx context.Context, identity, name, address string) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO players (identity, last_name, last_address, times_joined, last_seen)
VALUES (?, ?, ?, 1, ?)
ON CONFLICT (identity) DO UPDATE SET
	last_name = excluded.last_name,
	last_address = excluded.last_address,
	times_joined = players.times_joined + 1,
	last_seen = excluded.last_seen`,
		identity, name, address, time.Now().Unix())
	return blacklist.WithStack(err)
}

// RecordIdentity creates a minimal record for an identity that never joined.
// Existing records are left alone.
func (p *Players) RecordIdentity(ctx context.Context, identity, name, address string) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO players (identity, last_name, last_address, times_joined, last_seen)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT (identity) DO NOTHING`,
		identity, name, address, time.Now().Unix())
	return blacklist.WithStack(err)
}

// BanIdentity bans a recorded identity.
func (p *Players) BanIdentity(ctx context.Context, identity string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE players SET banned = 1 WHERE identity = ?`, identity)
	if err != nil {
		return blacklist.WithStack(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return blacklist.WithStack(err)
	} else if n == 0 {
		return errors.Errorf("no player record for %q", identity)
	}
	return nil
}

func (p *Players) BanAddress(ctx context.Context, address string) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO banned_addresses (address, banned_at) VALUES (?, ?)
ON CONFLICT (address) DO NOTHING`,
		address, time.Now().Unix())
	return blacklist.WithStack(err)
}

// Unban lifts the bans on identity and address. Empty values are ignored.
func (p *Players) Unban(ctx context.Context, identity, address string) error {
	if identity != "" {
		if _, err := p.db.ExecContext(ctx, `UPDATE players SET banned = 0 WHERE identity = ?`, identity); err != nil {
			return blacklist.WithStack(err)
		}
	}
	if address != "" {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM banned_addresses WHERE address = ?`, address); err != nil {
			return blacklist.WithStack(err)
		}
	}
	return nil
}

// IsBanned reports whether either the identity or the address is banned.
func (p *Players) IsBanned(ctx context.Context, identity, address string) (bool, error) {
	var banned bool
	err := p.db.GetContext(ctx, &banned, `
SELECT EXISTS (SELECT 1 FROM players WHERE identity = ? AND banned = 1)
	OR EXISTS (SELECT 1 FROM banned_addresses WHERE address = ?)`,
		identity, address)
	if err != nil {
		return false, blacklist.WithStack(err)
	}
	return banned, nil
}

// BannedAddresses returns every banned address, oldest ban first.
func (p *Players) BannedAddresses(ctx context.Context) ([]string, error) {
	var result []string
	if err := p.db.SelectContext(ctx, &result, `SELECT address FROM banned_addresses ORDER BY banned_at, address`); err != nil {
		return nil, blacklist.WithStack(err)
	}
	return result, nil
}

// BannedIdentities returns every banned identity.
func (p *Players) BannedIdentities(ctx context.Context) ([]Player, error) {
	var result []Player
	if err := p.db.SelectContext(ctx, &result, `SELECT * FROM players WHERE banned = 1 ORDER BY identity`); err != nil {
		return nil, blacklist.WithStack(err)
	}
	return result, nil
}
