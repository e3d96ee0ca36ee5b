// Package pg implementa core.Store sobre PostgreSQL (pgx v5). El esquema
// vive en migrations/.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/cancerbero/internal/store/core"
)

type Options struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.ConnMaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.ConnMaxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Clients() core.ClientStore   { return &clientRepo{pool: s.pool} }
func (s *Store) Subjects() core.SubjectStore { return &subjectRepo{pool: s.pool} }
func (s *Store) Grants() core.GrantStore     { return &grantRepo{pool: s.pool} }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
func (s *Store) Close()                         { s.pool.Close() }

// Pool expone el pool para los collectors de métricas.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// mapErr traduce errores pgx a los sentinelas de core.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return core.ErrConflict
	}
	return err
}

// ─── clients ───

type clientRepo struct{ pool *pgxpool.Pool }

func (r *clientRepo) Create(ctx context.Context, c core.Client) error {
	const query = `
		INSERT INTO oauth_client (id, name, secret_hash, redirect_uris, scopes, require_consent, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.SecretHash, c.RedirectURIs, c.Scopes, c.RequireConsent, c.Active)
	return mapErr(err)
}

func (r *clientRepo) Get(ctx context.Context, clientID string) (core.Client, error) {
	const query = `
		SELECT id, name, secret_hash, redirect_uris, scopes, require_consent, active, created_at
		FROM oauth_client WHERE id = $1
	`
	var c core.Client
	err := r.pool.QueryRow(ctx, query, clientID).Scan(
		&c.ID, &c.Name, &c.SecretHash, &c.RedirectURIs, &c.Scopes, &c.RequireConsent, &c.Active, &c.CreatedAt)
	if err != nil {
		return core.Client{}, mapErr(err)
	}
	return c, nil
}

func (r *clientRepo) List(ctx context.Context, activeOnly bool) ([]core.Client, error) {
	query := `
		SELECT id, name, secret_hash, redirect_uris, scopes, require_consent, active, created_at
		FROM oauth_client
	`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.Client
	for rows.Next() {
		var c core.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.SecretHash, &c.RedirectURIs, &c.Scopes, &c.RequireConsent, &c.Active, &c.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── subjects ───

type subjectRepo struct{ pool *pgxpool.Pool }

func (r *subjectRepo) Create(ctx context.Context, s core.Subject) error {
	const query = `
		INSERT INTO subject (id, username, password_phc, namespace, permissions, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.Username, s.PasswordPHC, s.Namespace, s.Permissions, s.Active)
	return mapErr(err)
}

func (r *subjectRepo) Get(ctx context.Context, id string) (core.Subject, error) {
	const query = `
		SELECT id, username, password_phc, namespace, permissions, active, created_at
		FROM subject WHERE id = $1
	`
	return r.scanSubject(r.pool.QueryRow(ctx, query, id))
}

func (r *subjectRepo) GetByUsername(ctx context.Context, username string) (core.Subject, error) {
	const query = `
		SELECT id, username, password_phc, namespace, permissions, active, created_at
		FROM subject WHERE username = $1
	`
	return r.scanSubject(r.pool.QueryRow(ctx, query, username))
}

func (r *subjectRepo) scanSubject(row pgx.Row) (core.Subject, error) {
	var s core.Subject
	err := row.Scan(&s.ID, &s.Username, &s.PasswordPHC, &s.Namespace, &s.Permissions, &s.Active, &s.CreatedAt)
	if err != nil {
		return core.Subject{}, mapErr(err)
	}
	return s, nil
}

func (r *subjectRepo) GetTOTP(ctx context.Context, subjectID string) (core.TOTPCredential, error) {
	const query = `
		SELECT subject_id, secret_encrypted, last_counter, confirmed_at, updated_at
		FROM subject_totp WHERE subject_id = $1
	`
	var c core.TOTPCredential
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&c.SubjectID, &c.SecretEncrypted, &c.LastCounter, &c.ConfirmedAt, &c.UpdatedAt)
	if err != nil {
		return core.TOTPCredential{}, mapErr(err)
	}
	return c, nil
}

func (r *subjectRepo) UpsertTOTP(ctx context.Context, cred core.TOTPCredential) error {
	const query = `
		INSERT INTO subject_totp (subject_id, secret_encrypted, last_counter, confirmed_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (subject_id) DO UPDATE
		SET secret_encrypted = $2, last_counter = $3, confirmed_at = $4, updated_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query,
		cred.SubjectID, cred.SecretEncrypted, cred.LastCounter, cred.ConfirmedAt)
	return mapErr(err)
}

func (r *subjectRepo) SetTOTPCounter(ctx context.Context, subjectID string, counter int64) error {
	// GREATEST evita que una carrera retroceda el contador.
	const query = `
		UPDATE subject_totp
		SET last_counter = GREATEST(last_counter, $2), updated_at = NOW()
		WHERE subject_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, subjectID, counter)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *subjectRepo) ListHardwareKeys(ctx context.Context, subjectID string) ([]core.HardwareKey, error) {
	const query = `
		SELECT subject_id, credential_id, label, sign_count, created_at
		FROM subject_hardware_key WHERE subject_id = $1 ORDER BY created_at
	`
	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.HardwareKey
	for rows.Next() {
		var k core.HardwareKey
		if err := rows.Scan(&k.SubjectID, &k.CredentialID, &k.Label, &k.SignCount, &k.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *subjectRepo) AddHardwareKey(ctx context.Context, k core.HardwareKey) error {
	const query = `
		INSERT INTO subject_hardware_key (subject_id, credential_id, label, sign_count, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	_, err := r.pool.Exec(ctx, query, k.SubjectID, k.CredentialID, k.Label, k.SignCount)
	return mapErr(err)
}

func (r *subjectRepo) SetHardwareKeySignCount(ctx context.Context, subjectID string, credentialID []byte, count uint32) error {
	const query = `
		UPDATE subject_hardware_key SET sign_count = $3
		WHERE subject_id = $1 AND credential_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, subjectID, credentialID, count)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *subjectRepo) ListBiometricDevices(ctx context.Context, subjectID string) ([]core.BiometricDevice, error) {
	const query = `
		SELECT subject_id, device_id, trusted, enrolled_at
		FROM subject_biometric_device WHERE subject_id = $1 ORDER BY enrolled_at
	`
	rows, err := r.pool.Query(ctx, query, subjectID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []core.BiometricDevice
	for rows.Next() {
		var d core.BiometricDevice
		if err := rows.Scan(&d.SubjectID, &d.DeviceID, &d.Trusted, &d.EnrolledAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *subjectRepo) AddBiometricDevice(ctx context.Context, d core.BiometricDevice) error {
	const query = `
		INSERT INTO subject_biometric_device (subject_id, device_id, trusted, enrolled_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := r.pool.Exec(ctx, query, d.SubjectID, d.DeviceID, d.Trusted)
	return mapErr(err)
}

func (r *subjectRepo) GetLockout(ctx context.Context, subjectID string) (core.Lockout, error) {
	const query = `
		SELECT subject_id, failures, window_start, locked_until
		FROM subject_lockout WHERE subject_id = $1
	`
	var l core.Lockout
	err := r.pool.QueryRow(ctx, query, subjectID).Scan(
		&l.SubjectID, &l.Failures, &l.WindowStart, &l.LockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Lockout{}, nil
	}
	if err != nil {
		return core.Lockout{}, mapErr(err)
	}
	return l, nil
}

func (r *subjectRepo) PutLockout(ctx context.Context, l core.Lockout) error {
	const query = `
		INSERT INTO subject_lockout (subject_id, failures, window_start, locked_until)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject_id) DO UPDATE
		SET failures = $2, window_start = $3, locked_until = $4
	`
	_, err := r.pool.Exec(ctx, query, l.SubjectID, l.Failures, l.WindowStart, l.LockedUntil)
	return mapErr(err)
}

func (r *subjectRepo) ClearLockout(ctx context.Context, subjectID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM subject_lockout WHERE subject_id = $1`, subjectID)
	return mapErr(err)
}

// ─── grants ───

type grantRepo struct{ pool *pgxpool.Pool }

func (r *grantRepo) Get(ctx context.Context, subjectID, clientID string) (core.Grant, error) {
	const query = `
		SELECT subject_id, client_id, scopes, granted_at
		FROM subject_grant WHERE subject_id = $1 AND client_id = $2
	`
	var g core.Grant
	err := r.pool.QueryRow(ctx, query, subjectID, clientID).Scan(
		&g.SubjectID, &g.ClientID, &g.Scopes, &g.GrantedAt)
	if err != nil {
		return core.Grant{}, mapErr(err)
	}
	return g, nil
}

func (r *grantRepo) Put(ctx context.Context, g core.Grant) error {
	const query = `
		INSERT INTO subject_grant (subject_id, client_id, scopes, granted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subject_id, client_id) DO UPDATE
		SET scopes = $3, granted_at = NOW()
	`
	_, err := r.pool.Exec(ctx, query, g.SubjectID, g.ClientID, g.Scopes)
	return mapErr(err)
}
