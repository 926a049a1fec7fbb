/*
Copyright The Capstan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package account manages operator credentials: password login, TOTP
// enrollment and the password lifecycle. Token issue is delegated to the
// authorization service.
package account

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	// ErrAccountNotFound indicates no account exists for the id or login.
	ErrAccountNotFound = errors.New("account: not found")
	// ErrLoginTaken indicates the login is already registered.
	ErrLoginTaken = errors.New("account: login already taken")
)

// Account is one stored credential record. TOTPKey is empty until the
// account enrolls.
type Account struct {
	ID       int64  `db:"id"`
	Login    string `db:"login"`
	Password string `db:"password"`
	TOTPKey  string `db:"totp_key"`
}

// Enrolled reports whether the account has TOTP set up.
func (a *Account) Enrolled() bool { return a.TOTPKey != "" }

// Repo stores accounts.
type Repo interface {
	Create(ctx context.Context, login, passwordHash string) (int64, error)
	ByID(ctx context.Context, id int64) (*Account, error)
	ByLogin(ctx context.Context, login string) (*Account, error)
	SetPassword(ctx context.Context, id int64, passwordHash string) error
	SetTOTPKey(ctx context.Context, id int64, key string) error
}

// SQLRepo keeps accounts in Postgres.
type SQLRepo struct {
	db *sqlx.DB
}

// NewSQLRepo opens a Postgres connection for the repo.
func NewSQLRepo(dsn string) (*SQLRepo, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	return &SQLRepo{db: db}, nil
}

// NewSQLRepoFromDB wraps an existing connection.
func NewSQLRepoFromDB(db *sqlx.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

var accountMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-accounts",
			Up: []string{`
CREATE TABLE IF NOT EXISTS accounts (
    id       BIGSERIAL PRIMARY KEY,
    login    TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL,
    totp_key TEXT NOT NULL DEFAULT ''
);`},
			Down: []string{`DROP TABLE IF EXISTS accounts;`},
		},
	},
}

// EnsureTables applies the schema migrations.
func (r *SQLRepo) EnsureTables() error {
	_, err := migrate.Exec(r.db.DB, "postgres", accountMigrations, migrate.Up)
	return errors.Wrap(err, "applying account migrations")
}

func (r *SQLRepo) Create(ctx context.Context, login, passwordHash string) (int64, error) {
	var id int64
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO accounts (login, password) VALUES ($1, $2)
		 ON CONFLICT (login) DO NOTHING RETURNING id`,
		login, passwordHash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(ErrLoginTaken, "login %q", login)
	}
	return id, errors.Wrap(err, "creating account")
}

func (r *SQLRepo) ByID(ctx context.Context, id int64) (*Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a,
		`SELECT id, login, password, totp_key FROM accounts WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return &a, errors.Wrap(err, "reading account")
}

func (r *SQLRepo) ByLogin(ctx context.Context, login string) (*Account, error) {
	var a Account
	err := r.db.GetContext(ctx, &a,
		`SELECT id, login, password, totp_key FROM accounts WHERE login = $1`, login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	return &a, errors.Wrap(err, "reading account")
}

func (r *SQLRepo) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password = $1 WHERE id = $2`, passwordHash, id)
	return checkUpdated(res, err)
}

func (r *SQLRepo) SetTOTPKey(ctx context.Context, id int64, key string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET totp_key = $1 WHERE id = $2`, key, id)
	return checkUpdated(res, err)
}

func checkUpdated(res sql.Result, err error) error {
	if err != nil {
		return errors.Wrap(err, "updating account")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "updating account")
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// MemoryRepo is an in-process Repo for tests and dev.
type MemoryRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]*Account
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{nextID: 1, accounts: map[int64]*Account{}}
}

func (m *MemoryRepo) Create(_ context.Context, login, passwordHash string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Login == login {
			return 0, errors.Wrapf(ErrLoginTaken, "login %q", login)
		}
	}
	id := m.nextID
	m.nextID++
	m.accounts[id] = &Account{ID: id, Login: login, Password: passwordHash}
	return id, nil
}

func (m *MemoryRepo) ByID(_ context.Context, id int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryRepo) ByLogin(_ context.Context, login string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Login == login {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (m *MemoryRepo) SetPassword(_ context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.Password = passwordHash
	return nil
}

func (m *MemoryRepo) SetTOTPKey(_ context.Context, id int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.TOTPKey = key
	return nil
}
