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

package driver

import (
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"

	// Import pq for the postgres dialect.
	_ "github.com/lib/pq"

	"capstan.sh/capstan/pkg/release"
)

var _ Driver = (*SQL)(nil)

// SQLDriverName is the string name of this driver.
const SQLDriverName = "SQL"

const releasesTable = "releases"

// SQL is the Postgres release store driver. All writes to a single release
// are serialized with row-level locks (SELECT ... FOR UPDATE inside Mutate),
// so two concurrent approvals of the same release cannot lose an entry.
type SQL struct {
	db  *sqlx.DB
	Log func(string, ...interface{})
}

// NewSQL connects to Postgres and returns a SQL driver. The schema is not
// created here; call EnsureTables (exposed through the intake bootstrap
// endpoints) to do that.
func NewSQL(connectionString string, logger func(string, ...interface{})) (*SQL, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, errors.Wrap(err, "storage: connect")
	}
	return &SQL{db: db, Log: logger}, nil
}

// NewSQLFromDB wraps an existing database handle. Used by tests.
func NewSQLFromDB(db *sql.DB, logger func(string, ...interface{})) *SQL {
	return &SQL{db: sqlx.NewDb(db, "postgres"), Log: logger}
}

// Name returns the name of the driver.
func (s *SQL) Name() string { return SQLDriverName }

func (s *SQL) migrations() *migrate.MemoryMigrationSource {
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id: "init",
				Up: []string{`
					CREATE TABLE releases (
						id BIGSERIAL PRIMARY KEY,
						service_name TEXT NOT NULL,
						release_tag TEXT NOT NULL,
						rollback_to_tag TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL,
						initiated_by TEXT NOT NULL,
						ci_run_id TEXT NOT NULL DEFAULT '',
						ci_action_link TEXT NOT NULL DEFAULT '',
						ci_ref TEXT NOT NULL DEFAULT '',
						approved_list TEXT NOT NULL DEFAULT '[]',
						created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
						started_at TIMESTAMPTZ,
						completed_at TIMESTAMPTZ
					);
					CREATE INDEX releases_status_idx ON releases (status);
					CREATE INDEX releases_service_name_idx ON releases (service_name);
					CREATE INDEX releases_created_at_idx ON releases (created_at);
				`},
				Down: []string{`DROP TABLE releases;`},
			},
		},
	}
}

// EnsureTables creates the releases table if it does not exist yet.
func (s *SQL) EnsureTables() error {
	_, err := migrate.Exec(s.db.DB, "postgres", s.migrations(), migrate.Up)
	return errors.Wrap(err, "storage: ensure tables")
}

// DropTables drops the releases table. Production deployments gate the
// endpoint that reaches this.
func (s *SQL) DropTables() error {
	_, err := migrate.Exec(s.db.DB, "postgres", s.migrations(), migrate.Down)
	return errors.Wrap(err, "storage: drop tables")
}

// sqlReleaseRow describes how releases are stored in Postgres. approved_list
// is a JSON array of identity strings.
type sqlReleaseRow struct {
	ID            int64        `db:"id"`
	ServiceName   string       `db:"service_name"`
	ReleaseTag    string       `db:"release_tag"`
	RollbackToTag string       `db:"rollback_to_tag"`
	Status        string       `db:"status"`
	InitiatedBy   string       `db:"initiated_by"`
	CIRunID       string       `db:"ci_run_id"`
	CIActionLink  string       `db:"ci_action_link"`
	CIRef         string       `db:"ci_ref"`
	ApprovedList  string       `db:"approved_list"`
	CreatedAt     time.Time    `db:"created_at"`
	StartedAt     sql.NullTime `db:"started_at"`
	CompletedAt   sql.NullTime `db:"completed_at"`
}

const selectColumns = `id, service_name, release_tag, rollback_to_tag, status, initiated_by,
	ci_run_id, ci_action_link, ci_ref, approved_list, created_at, started_at, completed_at`

func (row *sqlReleaseRow) toRelease() (*release.Release, error) {
	var approved []string
	if err := json.Unmarshal([]byte(row.ApprovedList), &approved); err != nil {
		return nil, errors.Wrapf(err, "storage: decode approved_list for release %d", row.ID)
	}
	rel := &release.Release{
		ID:            row.ID,
		ServiceName:   row.ServiceName,
		ReleaseTag:    row.ReleaseTag,
		RollbackToTag: row.RollbackToTag,
		Status:        release.Status(row.Status),
		InitiatedBy:   row.InitiatedBy,
		CIRunID:       row.CIRunID,
		CIActionLink:  row.CIActionLink,
		CIRef:         row.CIRef,
		ApprovedList:  approved,
		CreatedAt:     row.CreatedAt,
	}
	if row.StartedAt.Valid {
		rel.StartedAt = row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		rel.CompletedAt = row.CompletedAt.Time
	}
	return rel, nil
}

// Create inserts rel and returns the id Postgres assigned.
func (s *SQL) Create(rel *release.Release) (int64, error) {
	approved := rel.ApprovedList
	if approved == nil {
		approved = []string{}
	}
	body, err := json.Marshal(approved)
	if err != nil {
		return 0, errors.Wrap(err, "storage: encode approved_list")
	}

	query, args, err := sq.
		Insert(releasesTable).
		Columns("service_name", "release_tag", "rollback_to_tag", "status",
			"initiated_by", "ci_run_id", "ci_action_link", "ci_ref", "approved_list").
		Values(rel.ServiceName, rel.ReleaseTag, rel.RollbackToTag, rel.Status.String(),
			rel.InitiatedBy, rel.CIRunID, rel.CIActionLink, rel.CIRef, string(body)).
		Suffix("RETURNING id, created_at").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "storage: build insert")
	}

	var id int64
	var createdAt time.Time
	if err := s.db.QueryRow(query, args...).Scan(&id, &createdAt); err != nil {
		return 0, errors.Wrap(err, "storage: insert release")
	}
	rel.ID = id
	rel.CreatedAt = createdAt
	return id, nil
}

// Get returns the release with the given id.
func (s *SQL) Get(id int64) (*release.Release, error) {
	var row sqlReleaseRow
	err := s.db.Get(&row, "SELECT "+selectColumns+" FROM releases WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrReleaseNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "storage: get release %d", id)
	}
	return row.toRelease()
}

// Update applies a partial update outside of a row lock. Idempotent writes
// (same fields, same values) are safe.
func (s *SQL) Update(id int64, up Update) error {
	if up.Empty() {
		// No fields provided; verify the row exists and write nothing.
		_, err := s.Get(id)
		return err
	}
	query, args, err := buildUpdate(id, up)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return errors.Wrapf(err, "storage: update release %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "storage: update release %d", id)
	}
	if n == 0 {
		return ErrReleaseNotFound
	}
	return nil
}

// Mutate locks the row, runs fn against the current state, and applies the
// returned update inside the same transaction.
func (s *SQL) Mutate(id int64, fn MutateFunc) (err error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return errors.Wrap(err, "storage: begin")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.Log("rollback of mutate tx failed: %v", rbErr)
			}
		}
	}()

	var row sqlReleaseRow
	err = tx.Get(&row, "SELECT "+selectColumns+" FROM releases WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return ErrReleaseNotFound
	}
	if err != nil {
		return errors.Wrapf(err, "storage: lock release %d", id)
	}

	rel, err := row.toRelease()
	if err != nil {
		return err
	}
	up, err := fn(rel)
	if err != nil {
		return err
	}
	if up.Empty() {
		return tx.Commit()
	}

	query, args, err := buildUpdate(id, up)
	if err != nil {
		return err
	}
	if _, err = tx.Exec(query, args...); err != nil {
		return errors.Wrapf(err, "storage: update release %d", id)
	}
	return tx.Commit()
}

func buildUpdate(id int64, up Update) (string, []interface{}, error) {
	b := sq.Update(releasesTable).Where(sq.Eq{"id": id}).PlaceholderFormat(sq.Dollar)
	if up.Status != nil {
		b = b.Set("status", up.Status.String())
	}
	if up.CIRunID != nil {
		b = b.Set("ci_run_id", *up.CIRunID)
	}
	if up.CIActionLink != nil {
		b = b.Set("ci_action_link", *up.CIActionLink)
	}
	if up.RollbackToTag != nil {
		b = b.Set("rollback_to_tag", *up.RollbackToTag)
	}
	if up.ApprovedList != nil {
		body, err := json.Marshal(*up.ApprovedList)
		if err != nil {
			return "", nil, errors.Wrap(err, "storage: encode approved_list")
		}
		b = b.Set("approved_list", string(body))
	}
	if up.StartedAt != nil {
		b = b.Set("started_at", *up.StartedAt)
	}
	if up.CompletedAt != nil {
		b = b.Set("completed_at", *up.CompletedAt)
	}
	if up.ClearCompletedAt {
		b = b.Set("completed_at", nil)
	}
	query, args, err := b.ToSql()
	return query, args, errors.Wrap(err, "storage: build update")
}

// List returns every release whose status is in statuses, newest first.
func (s *SQL) List(statuses []release.Status) ([]*release.Release, error) {
	tokens := make([]string, len(statuses))
	for i, st := range statuses {
		tokens[i] = st.String()
	}
	query, args, err := sq.
		Select(selectColumns).
		From(releasesTable).
		Where(sq.Eq{"status": tokens}).
		OrderBy("created_at DESC", "id DESC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "storage: build list")
	}
	return s.selectReleases(query, args...)
}

// RecentSuccessful returns up to limit terminal-successful releases of
// service, excluding excludeID, newest first.
func (s *SQL) RecentSuccessful(service string, limit int, excludeID int64) ([]*release.Release, error) {
	tokens := make([]string, 0, 2)
	for _, st := range release.SuccessfulStatuses() {
		tokens = append(tokens, st.String())
	}
	query, args, err := sq.
		Select(selectColumns).
		From(releasesTable).
		Where(sq.Eq{"service_name": service, "status": tokens}).
		Where(sq.NotEq{"id": excludeID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "storage: build recent successful")
	}
	return s.selectReleases(query, args...)
}

func (s *SQL) selectReleases(query string, args ...interface{}) ([]*release.Release, error) {
	var rows []sqlReleaseRow
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "storage: select releases")
	}
	out := make([]*release.Release, 0, len(rows))
	for i := range rows {
		rel, err := rows[i].toRelease()
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}
