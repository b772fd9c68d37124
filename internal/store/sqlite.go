package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/taxprep/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode. busy_timeout and foreign_keys are per connection, so they go in the
// DSN and apply to every connection the pool opens.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", withPragmas(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS returns (
	id              TEXT PRIMARY KEY,
	profile         TEXT NOT NULL,
	assessment_year TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	return_id   TEXT NOT NULL REFERENCES returns(id),
	source_kind TEXT NOT NULL,
	format      TEXT NOT NULL,
	payload     BLOB NOT NULL,
	confidence  REAL NOT NULL,
	captured_at DATETIME NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS extracts (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	return_id   TEXT NOT NULL REFERENCES returns(id),
	source_kind TEXT NOT NULL,
	data        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_actions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	return_id  TEXT NOT NULL REFERENCES returns(id),
	field      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS step_outputs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	return_id  TEXT NOT NULL REFERENCES returns(id),
	step       TEXT NOT NULL,
	output_ref TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS step_states (
	return_id  TEXT NOT NULL REFERENCES returns(id),
	step       TEXT NOT NULL,
	status     TEXT NOT NULL,
	output_ref TEXT NOT NULL DEFAULT '',
	input_hash TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (return_id, step)
);

CREATE TABLE IF NOT EXISTS rule_results (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	return_id    TEXT NOT NULL REFERENCES returns(id),
	pass_id      TEXT NOT NULL,
	rule_code    TEXT NOT NULL,
	data         TEXT NOT NULL,
	evaluated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_leases (
	return_id  TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_returns_ay ON returns(assessment_year);
CREATE INDEX IF NOT EXISTS idx_documents_return ON documents(return_id);
CREATE INDEX IF NOT EXISTS idx_extracts_return ON extracts(return_id);
CREATE INDEX IF NOT EXISTS idx_user_actions_return ON user_actions(return_id);
CREATE INDEX IF NOT EXISTS idx_step_outputs_return_step ON step_outputs(return_id, step);
CREATE INDEX IF NOT EXISTS idx_rule_results_return ON rule_results(return_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateReturn(ctx context.Context, profile model.TaxpayerProfile) (*model.TaxReturn, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO returns (id, profile, assessment_year, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(profileJSON), profile.AssessmentYear, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert return")
	}
	return &model.TaxReturn{ID: id, Profile: profile, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetReturn(ctx context.Context, id string) (*model.TaxReturn, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, profile, created_at, updated_at FROM returns WHERE id = ?`, id,
	)
	r, err := scanReturn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: return %s", id)
	}
	return r, err
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, id string, profile model.TaxpayerProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE returns SET profile = ?, assessment_year = ?, updated_at = ? WHERE id = ?`,
		string(profileJSON), profile.AssessmentYear, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update return %s", id)
	}
	return checkRowsAffected(res, "return", id)
}

func (s *SQLiteStore) ListReturns(ctx context.Context, filter ReturnFilter) ([]model.TaxReturn, error) {
	query := `SELECT id, profile, created_at, updated_at FROM returns WHERE 1=1`
	var args []any
	if filter.AssessmentYear != "" {
		query += ` AND assessment_year = ?`
		args = append(args, filter.AssessmentYear)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, listLimit(filter), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list returns")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TaxReturn
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list returns iterate")
}

func (s *SQLiteStore) AddDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, return_id, source_kind, format, payload, confidence, captured_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.ReturnID, string(doc.SourceKind), doc.Format, doc.Payload, doc.Confidence, doc.CapturedAt.UTC(), doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert document for return %s", doc.ReturnID)
	}
	return &doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, returnID string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, return_id, source_kind, format, payload, confidence, captured_at, created_at
		 FROM documents WHERE return_id = ? ORDER BY seq`, returnID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.ReturnID, &d.SourceKind, &d.Format, &d.Payload, &d.Confidence, &d.CapturedAt, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) AppendExtracts(ctx context.Context, extracts []model.Extract) error {
	if len(extracts) == 0 {
		return nil
	}
	return s.inTx(ctx, "append extracts", func(tx *sql.Tx) error {
		for _, e := range extracts {
			data, err := json.Marshal(e)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal extract")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO extracts (id, return_id, source_kind, data) VALUES (?, ?, ?, ?)`,
				e.ID, e.ReturnID, string(e.SourceKind), string(data),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert extract %s", e.ID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListExtracts(ctx context.Context, returnID string) ([]model.Extract, error) {
	return listJSON[model.Extract](ctx, s.db, "extracts",
		`SELECT data FROM extracts WHERE return_id = ? ORDER BY seq`, returnID)
}

func (s *SQLiteStore) AppendAction(ctx context.Context, a model.UserAction) (*model.UserAction, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal action")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_actions (id, return_id, field, kind, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ReturnID, a.Field, string(a.Kind), string(data), a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert action for return %s", a.ReturnID)
	}
	return &a, nil
}

func (s *SQLiteStore) ListActions(ctx context.Context, returnID string) ([]model.UserAction, error) {
	return listJSON[model.UserAction](ctx, s.db, "actions",
		`SELECT data FROM user_actions WHERE return_id = ? ORDER BY seq`, returnID)
}

func (s *SQLiteStore) SaveStepOutput(ctx context.Context, out model.StepOutput) error {
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_outputs (return_id, step, output_ref, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		out.ReturnID, string(out.Step), out.OutputRef, out.Payload, out.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: save %s output for return %s", out.Step, out.ReturnID)
}

func (s *SQLiteStore) LoadLatest(ctx context.Context, returnID string, step model.StepName) (*model.StepOutput, error) {
	var out model.StepOutput
	err := s.db.QueryRowContext(ctx,
		`SELECT return_id, step, output_ref, payload, created_at FROM step_outputs
		 WHERE return_id = ? AND step = ? ORDER BY seq DESC LIMIT 1`,
		returnID, string(step),
	).Scan(&out.ReturnID, &out.Step, &out.OutputRef, &out.Payload, &out.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "sqlite: %s output for return %s", step, returnID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s output", step)
	}
	return &out, nil
}

func (s *SQLiteStore) GetStepStates(ctx context.Context, returnID string) ([]model.StepState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT return_id, step, status, output_ref, input_hash, error, attempts, updated_at
		 FROM step_states WHERE return_id = ?`, returnID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get step states")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StepState
	for rows.Next() {
		var st model.StepState
		if err := rows.Scan(&st.ReturnID, &st.Step, &st.Status, &st.OutputRef, &st.InputHash, &st.Error, &st.Attempts, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan step state")
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: get step states iterate")
	}
	sortStates(out)
	return out, nil
}

func (s *SQLiteStore) SaveStepStates(ctx context.Context, states []model.StepState) error {
	if len(states) == 0 {
		return nil
	}
	return s.inTx(ctx, "save step states", func(tx *sql.Tx) error {
		for _, st := range states {
			if st.UpdatedAt.IsZero() {
				st.UpdatedAt = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO step_states (return_id, step, status, output_ref, input_hash, error, attempts, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT (return_id, step) DO UPDATE SET
				   status = excluded.status, output_ref = excluded.output_ref, input_hash = excluded.input_hash,
				   error = excluded.error, attempts = excluded.attempts, updated_at = excluded.updated_at`,
				st.ReturnID, string(st.Step), string(st.Status), st.OutputRef, st.InputHash, st.Error, st.Attempts, st.UpdatedAt,
			); err != nil {
				return eris.Wrapf(err, "sqlite: upsert step state %s/%s", st.ReturnID, st.Step)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) AppendRuleResults(ctx context.Context, returnID string, results []model.RuleResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.inTx(ctx, "append rule results", func(tx *sql.Tx) error {
		for _, r := range results {
			data, err := json.Marshal(r)
			if err != nil {
				return eris.Wrap(err, "sqlite: marshal rule result")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rule_results (return_id, pass_id, rule_code, data, evaluated_at) VALUES (?, ?, ?, ?, ?)`,
				returnID, r.PassID, r.RuleCode, string(data), r.EvaluatedAt.UTC(),
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert rule result %s", r.RuleCode)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListRuleResults(ctx context.Context, returnID string) ([]model.RuleResult, error) {
	return listJSON[model.RuleResult](ctx, s.db, "rule results",
		`SELECT data FROM rule_results WHERE return_id = ? ORDER BY seq`, returnID)
}

// AcquireLease takes the return's execution lease, or fails with
// ErrRunInFlight while another holder's lease is unexpired.
func (s *SQLiteStore) AcquireLease(ctx context.Context, returnID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO run_leases (return_id, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (return_id) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		 WHERE run_leases.expires_at <= ? OR run_leases.holder = excluded.holder`,
		returnID, holder, now.Add(ttl).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: acquire lease for return %s", returnID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrRunInFlight, "sqlite: return %s", returnID)
	}
	return nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, returnID, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM run_leases WHERE return_id = ? AND holder = ?`, returnID, holder,
	)
	return eris.Wrapf(err, "sqlite: release lease for return %s", returnID)
}

// helpers

func withPragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func listJSON[T any](ctx context.Context, db *sql.DB, what, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list %s", what)
	}
	defer rows.Close() //nolint:errcheck

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s", what)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal %s", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: list %s iterate", what)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanReturn(row scannable) (*model.TaxReturn, error) {
	var r model.TaxReturn
	var profileJSON string
	if err := row.Scan(&r.ID, &profileJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan return")
	}
	if err := json.Unmarshal([]byte(profileJSON), &r.Profile); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile")
	}
	return &r, nil
}
