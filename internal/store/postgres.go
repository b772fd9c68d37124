package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/taxprep/internal/db"
	"github.com/sells-group/taxprep/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS returns (
	id              TEXT PRIMARY KEY,
	profile         JSONB NOT NULL,
	assessment_year TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	return_id   TEXT NOT NULL REFERENCES returns(id),
	source_kind TEXT NOT NULL,
	format      TEXT NOT NULL,
	payload     BYTEA NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extracts (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	return_id   TEXT NOT NULL REFERENCES returns(id),
	source_kind TEXT NOT NULL,
	data        JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS user_actions (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	return_id  TEXT NOT NULL REFERENCES returns(id),
	field      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS step_outputs (
	seq        BIGSERIAL PRIMARY KEY,
	return_id  TEXT NOT NULL REFERENCES returns(id),
	step       TEXT NOT NULL,
	output_ref TEXT NOT NULL,
	payload    BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS step_states (
	return_id  TEXT NOT NULL REFERENCES returns(id),
	step       TEXT NOT NULL,
	status     TEXT NOT NULL,
	output_ref TEXT NOT NULL DEFAULT '',
	input_hash TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	attempts   INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (return_id, step)
);

CREATE TABLE IF NOT EXISTS rule_results (
	seq          BIGSERIAL PRIMARY KEY,
	return_id    TEXT NOT NULL REFERENCES returns(id),
	pass_id      TEXT NOT NULL,
	rule_code    TEXT NOT NULL,
	data         JSONB NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS run_leases (
	return_id  TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_returns_ay ON returns(assessment_year);
CREATE INDEX IF NOT EXISTS idx_documents_return ON documents(return_id);
CREATE INDEX IF NOT EXISTS idx_extracts_return ON extracts(return_id);
CREATE INDEX IF NOT EXISTS idx_user_actions_return ON user_actions(return_id);
CREATE INDEX IF NOT EXISTS idx_step_outputs_return_step ON step_outputs(return_id, step, seq DESC);
CREATE INDEX IF NOT EXISTS idx_rule_results_return ON rule_results(return_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateReturn(ctx context.Context, profile model.TaxpayerProfile) (*model.TaxReturn, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal profile")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO returns (id, profile, assessment_year, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, profileJSON, profile.AssessmentYear, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert return")
	}
	return &model.TaxReturn{ID: id, Profile: profile, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) GetReturn(ctx context.Context, id string) (*model.TaxReturn, error) {
	var r model.TaxReturn
	var profileJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, profile, created_at, updated_at FROM returns WHERE id = $1`, id,
	).Scan(&r.ID, &profileJSON, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: return %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get return %s", id)
	}
	if err := json.Unmarshal(profileJSON, &r.Profile); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile")
	}
	return &r, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, profile model.TaxpayerProfile) error {
	profileJSON, err := json.Marshal(profile)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE returns SET profile = $1, assessment_year = $2, updated_at = $3 WHERE id = $4`,
		profileJSON, profile.AssessmentYear, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update return %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrNotFound, "postgres: return %s", id)
	}
	return nil
}

func (s *PostgresStore) ListReturns(ctx context.Context, filter ReturnFilter) ([]model.TaxReturn, error) {
	query := `SELECT id, profile, created_at, updated_at FROM returns WHERE ($1 = '' OR assessment_year = $1)
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, filter.AssessmentYear, listLimit(filter), max(filter.Offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list returns")
	}
	defer rows.Close()

	var out []model.TaxReturn
	for rows.Next() {
		var r model.TaxReturn
		var profileJSON []byte
		if err := rows.Scan(&r.ID, &profileJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan return")
		}
		if err := json.Unmarshal(profileJSON, &r.Profile); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal profile")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list returns iterate")
}

func (s *PostgresStore) AddDocument(ctx context.Context, doc model.Document) (*model.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, return_id, source_kind, format, payload, confidence, captured_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		doc.ID, doc.ReturnID, string(doc.SourceKind), doc.Format, doc.Payload, doc.Confidence, doc.CapturedAt.UTC(), doc.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert document for return %s", doc.ReturnID)
	}
	return &doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, returnID string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, return_id, source_kind, format, payload, confidence, captured_at, created_at
		 FROM documents WHERE return_id = $1 ORDER BY seq`, returnID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		var d model.Document
		var kind string
		if err := rows.Scan(&d.ID, &d.ReturnID, &kind, &d.Format, &d.Payload, &d.Confidence, &d.CapturedAt, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		d.SourceKind = model.SourceKind(kind)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) AppendExtracts(ctx context.Context, extracts []model.Extract) error {
	rows := make([][]any, 0, len(extracts))
	for _, e := range extracts {
		data, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal extract")
		}
		rows = append(rows, []any{e.ID, e.ReturnID, string(e.SourceKind), data})
	}
	_, err := db.CopyFrom(ctx, s.pool, "extracts", []string{"id", "return_id", "source_kind", "data"}, rows)
	return eris.Wrap(err, "postgres: append extracts")
}

func (s *PostgresStore) ListExtracts(ctx context.Context, returnID string) ([]model.Extract, error) {
	return pgListJSON[model.Extract](ctx, s.pool, "extracts",
		`SELECT data FROM extracts WHERE return_id = $1 ORDER BY seq`, returnID)
}

func (s *PostgresStore) AppendAction(ctx context.Context, a model.UserAction) (*model.UserAction, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal action")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO user_actions (id, return_id, field, kind, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ReturnID, a.Field, string(a.Kind), data, a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert action for return %s", a.ReturnID)
	}
	return &a, nil
}

func (s *PostgresStore) ListActions(ctx context.Context, returnID string) ([]model.UserAction, error) {
	return pgListJSON[model.UserAction](ctx, s.pool, "actions",
		`SELECT data FROM user_actions WHERE return_id = $1 ORDER BY seq`, returnID)
}

func (s *PostgresStore) SaveStepOutput(ctx context.Context, out model.StepOutput) error {
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO step_outputs (return_id, step, output_ref, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		out.ReturnID, string(out.Step), out.OutputRef, out.Payload, out.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: save %s output for return %s", out.Step, out.ReturnID)
}

func (s *PostgresStore) LoadLatest(ctx context.Context, returnID string, step model.StepName) (*model.StepOutput, error) {
	out := model.StepOutput{ReturnID: returnID, Step: step}
	err := s.pool.QueryRow(ctx,
		`SELECT output_ref, payload, created_at FROM step_outputs
		 WHERE return_id = $1 AND step = $2 ORDER BY seq DESC LIMIT 1`,
		returnID, string(step),
	).Scan(&out.OutputRef, &out.Payload, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(model.ErrNotFound, "postgres: %s output for return %s", step, returnID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s output", step)
	}
	return &out, nil
}

func (s *PostgresStore) GetStepStates(ctx context.Context, returnID string) ([]model.StepState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT step, status, output_ref, input_hash, error, attempts, updated_at
		 FROM step_states WHERE return_id = $1`, returnID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get step states")
	}
	defer rows.Close()

	var out []model.StepState
	for rows.Next() {
		st := model.StepState{ReturnID: returnID}
		var step, status string
		if err := rows.Scan(&step, &status, &st.OutputRef, &st.InputHash, &st.Error, &st.Attempts, &st.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan step state")
		}
		st.Step = model.StepName(step)
		st.Status = model.StepStatus(status)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: get step states iterate")
	}
	sortStates(out)
	return out, nil
}

// SaveStepStates upserts all states in one transaction, so an invalidation
// that resets several steps lands atomically.
func (s *PostgresStore) SaveStepStates(ctx context.Context, states []model.StepState) error {
	rows := make([][]any, 0, len(states))
	for _, st := range states {
		if st.UpdatedAt.IsZero() {
			st.UpdatedAt = time.Now().UTC()
		}
		rows = append(rows, []any{
			st.ReturnID, string(st.Step), string(st.Status), st.OutputRef, st.InputHash, st.Error, int32(st.Attempts), st.UpdatedAt,
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "step_states",
		Columns:      []string{"return_id", "step", "status", "output_ref", "input_hash", "error", "attempts", "updated_at"},
		ConflictKeys: []string{"return_id", "step"},
	}, rows)
	return eris.Wrap(err, "postgres: save step states")
}

func (s *PostgresStore) AppendRuleResults(ctx context.Context, returnID string, results []model.RuleResult) error {
	rows := make([][]any, 0, len(results))
	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal rule result")
		}
		rows = append(rows, []any{returnID, r.PassID, r.RuleCode, data, r.EvaluatedAt.UTC()})
	}
	_, err := db.CopyFrom(ctx, s.pool, "rule_results", []string{"return_id", "pass_id", "rule_code", "data", "evaluated_at"}, rows)
	return eris.Wrap(err, "postgres: append rule results")
}

func (s *PostgresStore) ListRuleResults(ctx context.Context, returnID string) ([]model.RuleResult, error) {
	return pgListJSON[model.RuleResult](ctx, s.pool, "rule results",
		`SELECT data FROM rule_results WHERE return_id = $1 ORDER BY seq`, returnID)
}

// AcquireLease takes the return's execution lease, or fails with
// ErrRunInFlight while another holder's lease is unexpired.
func (s *PostgresStore) AcquireLease(ctx context.Context, returnID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO run_leases (return_id, holder, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (return_id) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		 WHERE run_leases.expires_at <= $4 OR run_leases.holder = EXCLUDED.holder`,
		returnID, holder, now.Add(ttl), now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: acquire lease for return %s", returnID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrRunInFlight, "postgres: return %s", returnID)
	}
	return nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, returnID, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM run_leases WHERE return_id = $1 AND holder = $2`, returnID, holder,
	)
	return eris.Wrapf(err, "postgres: release lease for return %s", returnID)
}

func pgListJSON[T any](ctx context.Context, pool db.Pool, what, query string, args ...any) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s", what)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", what)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal %s", what)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: list %s iterate", what)
}
