package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/target/learnhub/internal/data/pgxutil"
	domainauth "github.com/target/learnhub/internal/domain/auth"
	apperrors "github.com/target/learnhub/internal/errors"
	"github.com/target/learnhub/internal/ports"
)

const profileColumns = `id, email, name, role, is_active`

// ProfileRepo provides database operations for user profiles.
type ProfileRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewProfileRepo creates a ProfileRepo stamping rows with the system clock.
func NewProfileRepo(db *sql.DB) *ProfileRepo {
	return &ProfileRepo{DB: db, clock: systemClock{}}
}

// NewProfileRepoWithClock creates a ProfileRepo with a custom clock.
func NewProfileRepoWithClock(db *sql.DB, clock Clock) *ProfileRepo {
	return &ProfileRepo{DB: db, clock: clock}
}

func (r *ProfileRepo) withConn(ctx context.Context, fn func(*pgx.Conn) error) error {
	if r.DB == nil {
		return ErrNoDatabase
	}
	return pgxutil.WithPgxConn(ctx, r.DB, fn)
}

func scanProfile(row pgx.Row) (*domainauth.UserProfile, error) {
	var (
		p    domainauth.UserProfile
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &p.IsActive); err != nil {
		return nil, err
	}
	parsed, err := domainauth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", p.ID, err)
	}
	p.Role = parsed
	return &p, nil
}

// mapProfileError translates driver errors into the port's sentinels.
func mapProfileError(op string, err error) error {
	if err == nil {
		return nil
	}
	mapped := apperrors.MapDBError(err)
	switch {
	case apperrors.IsNotFound(mapped):
		return domainauth.ErrProfileNotFound
	case apperrors.IsConflict(mapped):
		return ports.ErrProfileExists
	case apperrors.IsTransient(mapped):
		return domainauth.NewError(domainauth.KindTransientStore, op, mapped)
	}
	return fmt.Errorf("%s: %w", op, mapped)
}

// GetProfile returns the profile with the given id.
func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (*domainauth.UserProfile, error) {
	var out *domainauth.UserProfile
	err := r.withConn(ctx, func(conn *pgx.Conn) error {
		p, scanErr := scanProfile(conn.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
		out = p
		return scanErr
	})
	if err != nil {
		return nil, mapProfileError("get profile", err)
	}
	return out, nil
}

// InsertProfile creates the row. An existing id yields ports.ErrProfileExists.
func (r *ProfileRepo) InsertProfile(ctx context.Context, p domainauth.UserProfile) (*domainauth.UserProfile, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, apperrors.ValidationField("id", "profile id is required")
	}
	if !p.Role.Valid() {
		return nil, apperrors.ValidationField("role", "invalid role")
	}
	now := r.clock.Now().UTC()
	var out *domainauth.UserProfile
	err := r.withConn(ctx, func(conn *pgx.Conn) error {
		row := conn.QueryRow(ctx, `
			INSERT INTO profiles (id, email, name, role, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+profileColumns,
			p.ID, p.Email, p.Name, string(p.Role), p.IsActive, now,
		)
		created, scanErr := scanProfile(row)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return ports.ErrProfileExists
		}
		out = created
		return scanErr
	})
	if errors.Is(err, ports.ErrProfileExists) {
		return nil, err
	}
	if err != nil {
		return nil, mapProfileError("insert profile", err)
	}
	return out, nil
}

// GetActive reads only the activation flag.
func (r *ProfileRepo) GetActive(ctx context.Context, id string) (bool, error) {
	var active bool
	err := r.withConn(ctx, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `SELECT is_active FROM profiles WHERE id = $1`, id).Scan(&active)
	})
	if err != nil {
		return false, mapProfileError("get activation", err)
	}
	return active, nil
}

// UpdateName changes the display name and returns the updated row.
func (r *ProfileRepo) UpdateName(ctx context.Context, id, name string) (*domainauth.UserProfile, error) {
	var out *domainauth.UserProfile
	err := r.withConn(ctx, func(conn *pgx.Conn) error {
		p, scanErr := scanProfile(conn.QueryRow(ctx, `
			UPDATE profiles SET name = $2, updated_at = $3
			WHERE id = $1
			RETURNING `+profileColumns,
			id, name, r.clock.Now().UTC(),
		))
		out = p
		return scanErr
	})
	if err != nil {
		return nil, mapProfileError("update profile name", err)
	}
	return out, nil
}

// SetActive flips the activation flag. Used by enrollment payment handling
// and administrative tooling.
func (r *ProfileRepo) SetActive(ctx context.Context, id string, active bool) error {
	err := r.withConn(ctx, func(conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE profiles SET is_active = $2, updated_at = $3 WHERE id = $1`,
			id, active, r.clock.Now().UTC())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	return mapProfileError("set activation", err)
}

// SetRole assigns a role. Roles are never changed by the sign-in flow. The
// row is locked while compared so an unchanged role leaves updated_at alone.
func (r *ProfileRepo) SetRole(ctx context.Context, id string, role domainauth.Role) error {
	if !role.Valid() {
		return apperrors.ValidationField("role", "invalid role")
	}
	if r.DB == nil {
		return ErrNoDatabase
	}
	err := pgxutil.WithPgxTx(ctx, r.DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
			return err
		}
		if current == string(role) {
			return nil
		}
		_, err := tx.Exec(ctx, `UPDATE profiles SET role = $2, updated_at = $3 WHERE id = $1`,
			id, string(role), r.clock.Now().UTC())
		return err
	})
	return mapProfileError("set role", err)
}
