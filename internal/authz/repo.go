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

package authz

import (
	"context"
	"database/sql"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
)

// ErrNoRefreshToken indicates no refresh token is stored for the account.
var ErrNoRefreshToken = errors.New("authz: no refresh token stored")

// TokenRepo stores the single live refresh token per account.
type TokenRepo interface {
	Save(ctx context.Context, accountID int64, refreshToken string) error
	Get(ctx context.Context, accountID int64) (string, error)
}

// SQLRepo keeps refresh tokens in the authorization table.
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

var authzMigrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "1-authorization",
			Up: []string{`
CREATE TABLE IF NOT EXISTS authorization_tokens (
    account_id    BIGINT PRIMARY KEY,
    refresh_token TEXT NOT NULL
);`},
			Down: []string{`DROP TABLE IF EXISTS authorization_tokens;`},
		},
	},
}

// EnsureTables applies the schema migrations.
func (r *SQLRepo) EnsureTables() error {
	_, err := migrate.Exec(r.db.DB, "postgres", authzMigrations, migrate.Up)
	return errors.Wrap(err, "applying authz migrations")
}

func (r *SQLRepo) Save(ctx context.Context, accountID int64, refreshToken string) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO authorization_tokens (account_id, refresh_token)
VALUES ($1, $2)
ON CONFLICT (account_id) DO UPDATE SET refresh_token = EXCLUDED.refresh_token`,
		accountID, refreshToken)
	return errors.Wrap(err, "saving refresh token")
}

func (r *SQLRepo) Get(ctx context.Context, accountID int64) (string, error) {
	var token string
	err := r.db.GetContext(ctx, &token,
		`SELECT refresh_token FROM authorization_tokens WHERE account_id = $1`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRefreshToken
	}
	return token, errors.Wrap(err, "reading refresh token")
}

// MemoryRepo is an in-process TokenRepo for tests and dev.
type MemoryRepo struct {
	mu     sync.Mutex
	tokens map[int64]string
}

// NewMemoryRepo creates an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{tokens: map[int64]string{}}
}

func (m *MemoryRepo) Save(_ context.Context, accountID int64, refreshToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[accountID] = refreshToken
	return nil
}

func (m *MemoryRepo) Get(_ context.Context, accountID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[accountID]
	if !ok {
		return "", ErrNoRefreshToken
	}
	return token, nil
}
