package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path with WAL mode enabled.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer, many readers. To avoid "database is locked" errors with
	// the current driver setup, we strictly limit to 1 connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    super_admin INTEGER NOT NULL DEFAULT 0,
    disabled INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    token_hash TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id),
    active_org_id TEXT NOT NULL DEFAULT '',
    refresh_token BLOB,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    last_used_at INTEGER
);

CREATE TABLE IF NOT EXISTS organizations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
    org_id TEXT NOT NULL REFERENCES organizations(id),
    user_id TEXT NOT NULL REFERENCES users(id),
    role TEXT NOT NULL,
    custom_role_id TEXT,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (org_id, user_id)
);

CREATE TABLE IF NOT EXISTS custom_roles (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL REFERENCES organizations(id),
    name TEXT NOT NULL,
    is_admin INTEGER NOT NULL DEFAULT 0,
    permissions TEXT NOT NULL DEFAULT '[]',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS invitations (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL REFERENCES organizations(id),
    email TEXT NOT NULL,
    role TEXT NOT NULL,
    custom_role_id TEXT,
    created_at INTEGER NOT NULL,
    accepted_at INTEGER
);

CREATE TABLE IF NOT EXISTS api_tokens (
    token_hash TEXT PRIMARY KEY,
    display_prefix TEXT NOT NULL DEFAULT '',
    org_id TEXT NOT NULL REFERENCES organizations(id),
    user_id TEXT NOT NULL REFERENCES users(id),
    description TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    last_used_at INTEGER,
    expires_at INTEGER,
    revoked_at INTEGER
);

CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL REFERENCES organizations(id),
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customers_org ON customers(org_id);

CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL REFERENCES organizations(id),
    customer_id TEXT NOT NULL,
    make TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    year INTEGER NOT NULL DEFAULT 0,
    plate TEXT NOT NULL DEFAULT '',
    vin TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vehicles_org ON vehicles(org_id);

CREATE TABLE IF NOT EXISTS quotes (
    id TEXT PRIMARY KEY,
    org_id TEXT NOT NULL REFERENCES organizations(id),
    vehicle_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    description TEXT NOT NULL DEFAULT '',
    total_cents INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quotes_org ON quotes(org_id);

CREATE TABLE IF NOT EXISTS sync_snapshots (
    org_id TEXT NOT NULL REFERENCES organizations(id),
    sequence INTEGER NOT NULL,
    payload BLOB NOT NULL,
    payload_hash TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    PRIMARY KEY (org_id, sequence)
);
`

// --- Users ---

func (s *SQLiteStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, super_admin, disabled, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, boolToInt(u.SuperAdmin), boolToInt(u.Disabled), u.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, super_admin, disabled, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, name, super_admin, disabled, created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	var superAdmin, disabled int
	var createdAt int64
	err := row.Scan(&u.ID, &u.Email, &u.Name, &superAdmin, &disabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.SuperAdmin = superAdmin != 0
	u.Disabled = disabled != 0
	u.CreatedAt = time.Unix(createdAt, 0)
	return &u, nil
}

func (s *SQLiteStore) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET disabled = ? WHERE id = ?`, boolToInt(disabled), id)
	return err
}

// --- Sessions ---

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, active_org_id, refresh_token, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.TokenHash, sess.UserID, sess.ActiveOrgID, sess.RefreshToken, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix())
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, tokenHash string) (*Session, error) {
	var sess Session
	var createdAt, expiresAt int64
	var lastUsedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, user_id, active_org_id, refresh_token, created_at, expires_at, last_used_at
		 FROM sessions WHERE token_hash = ?`, tokenHash).
		Scan(&sess.TokenHash, &sess.UserID, &sess.ActiveOrgID, &sess.RefreshToken, &createdAt, &expiresAt, &lastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)
	sess.LastUsedAt = unixPtr(lastUsedAt)
	return &sess, nil
}

func (s *SQLiteStore) TouchSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = ? WHERE token_hash = ?`, time.Now().Unix(), tokenHash)
	return err
}

func (s *SQLiteStore) SetSessionActiveOrg(ctx context.Context, tokenHash, orgID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active_org_id = ? WHERE token_hash = ?`, orgID, tokenHash)
	return err
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash)
	return err
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListSessionsWithRefreshTokens(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_hash, user_id, active_org_id, refresh_token, created_at, expires_at, last_used_at
		 FROM sessions WHERE refresh_token IS NOT NULL AND length(refresh_token) > 0 AND expires_at >= ?`,
		time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt, expiresAt int64
		var lastUsedAt sql.NullInt64
		if err := rows.Scan(&sess.TokenHash, &sess.UserID, &sess.ActiveOrgID, &sess.RefreshToken, &createdAt, &expiresAt, &lastUsedAt); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.ExpiresAt = time.Unix(expiresAt, 0)
		sess.LastUsedAt = unixPtr(lastUsedAt)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// --- Organizations ---

func (s *SQLiteStore) CreateOrganization(ctx context.Context, o *Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, address, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.Address, o.Phone, o.CreatedAt.Unix(), o.UpdatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, address, phone, created_at, updated_at FROM organizations WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &o.Address, &o.Phone, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.CreatedAt = time.Unix(createdAt, 0)
	o.UpdatedAt = time.Unix(updatedAt, 0)
	return &o, nil
}

func (s *SQLiteStore) UpdateOrganization(ctx context.Context, o *Organization) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, address = ?, phone = ?, updated_at = ? WHERE id = ?`,
		o.Name, o.Address, o.Phone, o.UpdatedAt.Unix(), o.ID)
	return err
}

func (s *SQLiteStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, address, phone, created_at, updated_at FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var o Organization
		var createdAt, updatedAt int64
		if err := rows.Scan(&o.ID, &o.Name, &o.Address, &o.Phone, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		o.CreatedAt = time.Unix(createdAt, 0)
		o.UpdatedAt = time.Unix(updatedAt, 0)
		orgs = append(orgs, o)
	}
	return orgs, rows.Err()
}

// --- Memberships ---

// membershipSelect joins the custom role on both id and organization, so a
// custom_role_id pointing at another organization's role never loads.
const membershipSelect = `
SELECT m.org_id, m.user_id, m.role, m.custom_role_id, m.created_at,
       r.id, r.org_id, r.name, r.is_admin, r.permissions, r.created_at, r.updated_at
FROM memberships m
LEFT JOIN custom_roles r ON r.id = m.custom_role_id AND r.org_id = m.org_id
`

func (s *SQLiteStore) CreateMembership(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memberships (org_id, user_id, role, custom_role_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.OrganizationID, m.UserID, m.Role, m.CustomRoleID, m.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SQLiteStore) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	return s.scanMembership(s.db.QueryRowContext(ctx,
		membershipSelect+`WHERE m.org_id = ? AND m.user_id = ?`, orgID, userID))
}

func (s *SQLiteStore) FirstMembershipForUser(ctx context.Context, userID string) (*Membership, error) {
	return s.scanMembership(s.db.QueryRowContext(ctx,
		membershipSelect+`WHERE m.user_id = ? ORDER BY m.created_at LIMIT 1`, userID))
}

func (s *SQLiteStore) scanMembership(row *sql.Row) (*Membership, error) {
	var m Membership
	var createdAt int64
	var roleID, roleOrg, roleName, rolePerms sql.NullString
	var roleIsAdmin sql.NullInt64
	var roleCreated, roleUpdated sql.NullInt64
	err := row.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CustomRoleID, &createdAt,
		&roleID, &roleOrg, &roleName, &roleIsAdmin, &rolePerms, &roleCreated, &roleUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	if roleID.Valid {
		cr := &CustomRole{
			ID:             roleID.String,
			OrganizationID: roleOrg.String,
			Name:           roleName.String,
			IsAdmin:        roleIsAdmin.Int64 != 0,
			CreatedAt:      time.Unix(roleCreated.Int64, 0),
			UpdatedAt:      time.Unix(roleUpdated.Int64, 0),
		}
		if err := json.Unmarshal([]byte(rolePerms.String), &cr.Permissions); err != nil {
			return nil, fmt.Errorf("decode custom role permissions: %w", err)
		}
		m.CustomRole = cr
	}
	return &m, nil
}

func (s *SQLiteStore) ListMembershipsForUser(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, user_id, role, custom_role_id, created_at FROM memberships WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func (s *SQLiteStore) ListMembers(ctx context.Context, orgID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.org_id, m.user_id, m.role, m.custom_role_id, m.created_at, u.email, u.name
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.org_id = ? ORDER BY m.created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var createdAt int64
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CustomRoleID, &createdAt, &m.UserEmail, &m.UserName); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		members = append(members, m)
	}
	return members, rows.Err()
}

func collectMemberships(rows *sql.Rows) ([]Membership, error) {
	var members []Membership
	for rows.Next() {
		var m Membership
		var createdAt int64
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.Role, &m.CustomRoleID, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) UpdateMembershipRole(ctx context.Context, orgID, userID, role string, customRoleID *string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memberships SET role = ?, custom_role_id = ? WHERE org_id = ? AND user_id = ?`,
		role, customRoleID, orgID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteMembership(ctx context.Context, orgID, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE org_id = ? AND user_id = ?`, orgID, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Custom roles ---

func (s *SQLiteStore) CreateCustomRole(ctx context.Context, r *CustomRole) error {
	perms, err := json.Marshal(r.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO custom_roles (id, org_id, name, is_admin, permissions, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.Name, boolToInt(r.IsAdmin), string(perms), r.CreatedAt.Unix(), r.UpdatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetCustomRole(ctx context.Context, orgID, id string) (*CustomRole, error) {
	var r CustomRole
	var isAdmin int
	var perms string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, is_admin, permissions, created_at, updated_at
		 FROM custom_roles WHERE org_id = ? AND id = ?`, orgID, id).
		Scan(&r.ID, &r.OrganizationID, &r.Name, &isAdmin, &perms, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.IsAdmin = isAdmin != 0
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
		return nil, fmt.Errorf("decode custom role permissions: %w", err)
	}
	return &r, nil
}

func (s *SQLiteStore) ListCustomRoles(ctx context.Context, orgID string) ([]CustomRole, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, is_admin, permissions, created_at, updated_at
		 FROM custom_roles WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []CustomRole
	for rows.Next() {
		var r CustomRole
		var isAdmin int
		var perms string
		var createdAt, updatedAt int64
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Name, &isAdmin, &perms, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		r.IsAdmin = isAdmin != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		r.UpdatedAt = time.Unix(updatedAt, 0)
		if err := json.Unmarshal([]byte(perms), &r.Permissions); err != nil {
			return nil, fmt.Errorf("decode custom role permissions: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *SQLiteStore) DeleteCustomRole(ctx context.Context, orgID, id string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// Detach the role from any members before deleting it.
	if _, err := tx.ExecContext(ctx,
		`UPDATE memberships SET custom_role_id = NULL WHERE org_id = ? AND custom_role_id = ?`, orgID, id); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM custom_roles WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// --- Invitations ---

func (s *SQLiteStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invitations (id, org_id, email, role, custom_role_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.CustomRoleID, inv.CreatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetInvitation(ctx context.Context, id string) (*Invitation, error) {
	var inv Invitation
	var createdAt int64
	var acceptedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, email, role, custom_role_id, created_at, accepted_at FROM invitations WHERE id = ?`, id).
		Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.CustomRoleID, &createdAt, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	inv.CreatedAt = time.Unix(createdAt, 0)
	inv.AcceptedAt = unixPtr(acceptedAt)
	return &inv, nil
}

func (s *SQLiteStore) ListInvitations(ctx context.Context, orgID string) ([]Invitation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, email, role, custom_role_id, created_at, accepted_at
		 FROM invitations WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []Invitation
	for rows.Next() {
		var inv Invitation
		var createdAt int64
		var acceptedAt sql.NullInt64
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.CustomRoleID, &createdAt, &acceptedAt); err != nil {
			return nil, err
		}
		inv.CreatedAt = time.Unix(createdAt, 0)
		inv.AcceptedAt = unixPtr(acceptedAt)
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// AcceptInvitation marks the invitation accepted and creates the membership
// atomically. The membership is always created in the invitation's own
// organization with the invitation's role and custom role; caller-supplied
// organization ids play no part.
func (s *SQLiteStore) AcceptInvitation(ctx context.Context, id, userID string) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var inv Invitation
	var acceptedAt sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT id, org_id, email, role, custom_role_id, accepted_at FROM invitations WHERE id = ?`, id).
		Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.CustomRoleID, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		return nil, ErrConflict
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE invitations SET accepted_at = ? WHERE id = ?`, now.Unix(), id); err != nil {
		return nil, err
	}

	m := &Membership{
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		Role:           inv.Role,
		CustomRoleID:   inv.CustomRoleID,
		CreatedAt:      now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memberships (org_id, user_id, role, custom_role_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.OrganizationID, m.UserID, m.Role, m.CustomRoleID, m.CreatedAt.Unix()); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return m, tx.Commit()
}

func (s *SQLiteStore) DeleteInvitation(ctx context.Context, orgID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM invitations WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- API tokens ---

func (s *SQLiteStore) CreateAPIToken(ctx context.Context, t *APIToken) error {
	var expiresAt any
	if t.ExpiresAt != nil {
		expiresAt = t.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (token_hash, display_prefix, org_id, user_id, description, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, t.DisplayPrefix, t.OrganizationID, t.UserID, t.Description, t.CreatedAt.Unix(), expiresAt)
	return err
}

func (s *SQLiteStore) GetAPIToken(ctx context.Context, tokenHash string) (*APIToken, error) {
	var t APIToken
	var createdAt int64
	var lastUsedAt, expiresAt, revokedAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT token_hash, display_prefix, org_id, user_id, description, created_at, last_used_at, expires_at, revoked_at
		 FROM api_tokens WHERE token_hash = ?`, tokenHash).
		Scan(&t.TokenHash, &t.DisplayPrefix, &t.OrganizationID, &t.UserID, &t.Description, &createdAt, &lastUsedAt, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	t.LastUsedAt = unixPtr(lastUsedAt)
	t.ExpiresAt = unixPtr(expiresAt)
	t.RevokedAt = unixPtr(revokedAt)
	return &t, nil
}

func (s *SQLiteStore) TouchAPIToken(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = ? WHERE token_hash = ?`, time.Now().Unix(), tokenHash)
	return err
}

func (s *SQLiteStore) RevokeAPIToken(ctx context.Context, orgID, tokenHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = ? WHERE org_id = ? AND token_hash = ? AND revoked_at IS NULL`,
		time.Now().Unix(), orgID, tokenHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) ListAPITokens(ctx context.Context, orgID string) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT token_hash, display_prefix, org_id, user_id, description, created_at, last_used_at, expires_at, revoked_at
		 FROM api_tokens WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []APIToken
	for rows.Next() {
		var t APIToken
		var createdAt int64
		var lastUsedAt, expiresAt, revokedAt sql.NullInt64
		if err := rows.Scan(&t.TokenHash, &t.DisplayPrefix, &t.OrganizationID, &t.UserID, &t.Description, &createdAt, &lastUsedAt, &expiresAt, &revokedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		t.LastUsedAt = unixPtr(lastUsedAt)
		t.ExpiresAt = unixPtr(expiresAt)
		t.RevokedAt = unixPtr(revokedAt)
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// --- Customers ---

func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, org_id, name, email, phone, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OrganizationID, c.Name, c.Email, c.Phone, c.CreatedAt.Unix(), c.UpdatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetCustomer(ctx context.Context, orgID, id string) (*Customer, error) {
	var c Customer
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, name, email, phone, created_at, updated_at FROM customers WHERE org_id = ? AND id = ?`, orgID, id).
		Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.Phone, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func (s *SQLiteStore) ListCustomers(ctx context.Context, orgID string) ([]Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, name, email, phone, created_at, updated_at FROM customers WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		var c Customer
		var createdAt, updatedAt int64
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Email, &c.Phone, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(updatedAt, 0)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *SQLiteStore) UpdateCustomer(ctx context.Context, c *Customer) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET name = ?, email = ?, phone = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		c.Name, c.Email, c.Phone, c.UpdatedAt.Unix(), c.OrganizationID, c.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteCustomer(ctx context.Context, orgID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM customers WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Vehicles ---

func (s *SQLiteStore) CreateVehicle(ctx context.Context, v *Vehicle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, org_id, customer_id, make, model, year, plate, vin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OrganizationID, v.CustomerID, v.Make, v.Model, v.Year, v.Plate, v.VIN, v.CreatedAt.Unix(), v.UpdatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetVehicle(ctx context.Context, orgID, id string) (*Vehicle, error) {
	return scanVehicle(s.db.QueryRowContext(ctx,
		`SELECT id, org_id, customer_id, make, model, year, plate, vin, created_at, updated_at
		 FROM vehicles WHERE org_id = ? AND id = ?`, orgID, id))
}

func scanVehicle(row *sql.Row) (*Vehicle, error) {
	var v Vehicle
	var createdAt, updatedAt int64
	err := row.Scan(&v.ID, &v.OrganizationID, &v.CustomerID, &v.Make, &v.Model, &v.Year, &v.Plate, &v.VIN, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.CreatedAt = time.Unix(createdAt, 0)
	v.UpdatedAt = time.Unix(updatedAt, 0)
	return &v, nil
}

func (s *SQLiteStore) ListVehicles(ctx context.Context, orgID, customerID string) ([]Vehicle, error) {
	query := `SELECT id, org_id, customer_id, make, model, year, plate, vin, created_at, updated_at
	          FROM vehicles WHERE org_id = ?`
	args := []any{orgID}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []Vehicle
	for rows.Next() {
		var v Vehicle
		var createdAt, updatedAt int64
		if err := rows.Scan(&v.ID, &v.OrganizationID, &v.CustomerID, &v.Make, &v.Model, &v.Year, &v.Plate, &v.VIN, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(createdAt, 0)
		v.UpdatedAt = time.Unix(updatedAt, 0)
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (s *SQLiteStore) UpdateVehicle(ctx context.Context, v *Vehicle) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET customer_id = ?, make = ?, model = ?, year = ?, plate = ?, vin = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		v.CustomerID, v.Make, v.Model, v.Year, v.Plate, v.VIN, v.UpdatedAt.Unix(), v.OrganizationID, v.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteVehicle(ctx context.Context, orgID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM vehicles WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Quotes ---

func (s *SQLiteStore) CreateQuote(ctx context.Context, q *Quote) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (id, org_id, vehicle_id, status, description, total_cents, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.OrganizationID, q.VehicleID, q.Status, q.Description, q.TotalCents, q.CreatedAt.Unix(), q.UpdatedAt.Unix())
	return err
}

func (s *SQLiteStore) GetQuote(ctx context.Context, orgID, id string) (*Quote, error) {
	var q Quote
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, vehicle_id, status, description, total_cents, created_at, updated_at
		 FROM quotes WHERE org_id = ? AND id = ?`, orgID, id).
		Scan(&q.ID, &q.OrganizationID, &q.VehicleID, &q.Status, &q.Description, &q.TotalCents, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.CreatedAt = time.Unix(createdAt, 0)
	q.UpdatedAt = time.Unix(updatedAt, 0)
	return &q, nil
}

func (s *SQLiteStore) ListQuotes(ctx context.Context, orgID string) ([]Quote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, vehicle_id, status, description, total_cents, created_at, updated_at
		 FROM quotes WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		var createdAt, updatedAt int64
		if err := rows.Scan(&q.ID, &q.OrganizationID, &q.VehicleID, &q.Status, &q.Description, &q.TotalCents, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		q.UpdatedAt = time.Unix(updatedAt, 0)
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *SQLiteStore) UpdateQuoteStatus(ctx context.Context, orgID, id, status string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		status, time.Now().Unix(), orgID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) DeleteQuote(ctx context.Context, orgID, id string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM quotes WHERE org_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Sync snapshots ---

// SaveSyncSnapshot assigns and returns the next sequence number for the
// organization.
func (s *SQLiteStore) SaveSyncSnapshot(ctx context.Context, snap *SyncSnapshot) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM sync_snapshots WHERE org_id = ?`, snap.OrganizationID).
		Scan(&seq); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sync_snapshots (org_id, sequence, payload, payload_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.OrganizationID, seq, snap.Payload, snap.Hash, snap.CreatedAt.Unix()); err != nil {
		return 0, err
	}
	return seq, tx.Commit()
}

func (s *SQLiteStore) GetSyncSnapshot(ctx context.Context, orgID string, sequence int64) (*SyncSnapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT org_id, sequence, payload, payload_hash, created_at FROM sync_snapshots WHERE org_id = ? AND sequence = ?`,
		orgID, sequence))
}

func (s *SQLiteStore) GetLatestSyncSnapshot(ctx context.Context, orgID string) (*SyncSnapshot, error) {
	return scanSnapshot(s.db.QueryRowContext(ctx,
		`SELECT org_id, sequence, payload, payload_hash, created_at FROM sync_snapshots
		 WHERE org_id = ? ORDER BY sequence DESC LIMIT 1`, orgID))
}

func scanSnapshot(row *sql.Row) (*SyncSnapshot, error) {
	var snap SyncSnapshot
	var createdAt int64
	err := row.Scan(&snap.OrganizationID, &snap.Sequence, &snap.Payload, &snap.Hash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.CreatedAt = time.Unix(createdAt, 0)
	return &snap, nil
}

// --- Backup ---

func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath)
	return err
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
