package storage

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when a unique constraint is violated (duplicate
// email, duplicate membership, duplicate plate within an organization).
var ErrConflict = errors.New("conflict")

// User is a platform account. SuperAdmin is a platform-level flag independent
// of any organization membership.
type User struct {
	ID         string
	Email      string
	Name       string
	SuperAdmin bool
	Disabled   bool
	CreatedAt  time.Time
}

// Session is a browser session. Only the SHA-256 hash of the session token is
// stored. ActiveOrgID is the user's currently selected organization; it is a
// hint only; the gate still verifies membership for that organization.
type Session struct {
	TokenHash    string
	UserID       string
	ActiveOrgID  string
	RefreshToken []byte // AES-GCM-encrypted OIDC refresh token, may be empty
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastUsedAt   *time.Time
}

// Organization is the tenant boundary. Every business record references
// exactly one organization id.
type Organization struct {
	ID        string
	Name      string
	Address   string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Membership ties a user to one organization with a built-in role and an
// optional custom role. A user has at most one membership per organization.
type Membership struct {
	OrganizationID string
	UserID         string
	Role           string // owner, admin, member
	CustomRoleID   *string
	CreatedAt      time.Time

	// CustomRole is populated on reads when CustomRoleID is set and the role
	// belongs to the same organization. A cross-organization reference never
	// loads.
	CustomRole *CustomRole

	// UserEmail and UserName are populated by member listings.
	UserEmail string
	UserName  string
}

// CustomRole is an organization-owned permission set. Permissions are
/// "action:subject" strings.
type CustomRole struct {
	ID             string
	OrganizationID string
	Name           string
	IsAdmin        bool
	Permissions    []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Invitation is a pending offer of membership in one organization.
type Invitation struct {
	ID             string
	OrganizationID string
	Email          string
	Role           string
	CustomRoleID   *string
	CreatedAt      time.Time
	AcceptedAt     *time.Time
}

// APIToken is an organization-bound credential for desktop clients. Only the
// SHA-256 hash is stored; DisplayPrefix keeps the first few characters for
// identification in listings.
type APIToken struct {
	TokenHash      string
	DisplayPrefix  string
	OrganizationID string
	UserID         string
	Description    string
	CreatedAt      time.Time
	LastUsedAt     *time.Time
	ExpiresAt      *time.Time
	RevokedAt      *time.Time
}

// Customer is a workshop customer record.
type Customer struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	Phone          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Vehicle is a customer's vehicle.
type Vehicle struct {
	ID             string
	OrganizationID string
	CustomerID     string
	Make           string
	Model          string
	Year           int
	Plate          string
	VIN            string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Quote is a repair quote for a vehicle. Status is one of draft, sent,
// approved, invoiced.
type Quote struct {
	ID             string
	OrganizationID string
	VehicleID      string
	Status         string
	Description    string
	TotalCents     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SyncSnapshot is a gzip-compressed state snapshot uploaded by a desktop
// client. Sequence numbers are per organization and strictly increasing.
type SyncSnapshot struct {
	OrganizationID string
	Sequence       int64
	Payload        []byte // gzip-compressed JSON
	Hash           string // SHA-256 of the uncompressed payload
	CreatedAt      time.Time
}

// Store is the storage interface for the backend.
type Store interface {
	// Lifecycle
	Close() error
	Ping(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetUserDisabled(ctx context.Context, id string, disabled bool) error

	// Sessions
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, tokenHash string) (*Session, error)
	TouchSession(ctx context.Context, tokenHash string) error
	SetSessionActiveOrg(ctx context.Context, tokenHash, orgID string) error
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
	// ListSessionsWithRefreshTokens returns live sessions carrying a stored
	// refresh token, for periodic revalidation against the identity provider.
	ListSessionsWithRefreshTokens(ctx context.Context) ([]Session, error)

	// Organizations
	CreateOrganization(ctx context.Context, o *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	UpdateOrganization(ctx context.Context, o *Organization) error
	ListOrganizations(ctx context.Context) ([]Organization, error)

	// Memberships
	CreateMembership(ctx context.Context, m *Membership) error
	GetMembership(ctx context.Context, orgID, userID string) (*Membership, error)
	FirstMembershipForUser(ctx context.Context, userID string) (*Membership, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]Membership, error)
	ListMembers(ctx context.Context, orgID string) ([]Membership, error)
	UpdateMembershipRole(ctx context.Context, orgID, userID, role string, customRoleID *string) (int64, error)
	DeleteMembership(ctx context.Context, orgID, userID string) (int64, error)

	// Custom roles
	CreateCustomRole(ctx context.Context, r *CustomRole) error
	GetCustomRole(ctx context.Context, orgID, id string) (*CustomRole, error)
	ListCustomRoles(ctx context.Context, orgID string) ([]CustomRole, error)
	DeleteCustomRole(ctx context.Context, orgID, id string) (int64, error)

	// Invitations
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitation(ctx context.Context, id string) (*Invitation, error)
	ListInvitations(ctx context.Context, orgID string) ([]Invitation, error)
	// AcceptInvitation marks the invitation accepted and creates the
	// membership in the invitation's own organization, atomically.
	AcceptInvitation(ctx context.Context, id, userID string) (*Membership, error)
	DeleteInvitation(ctx context.Context, orgID, id string) (int64, error)

	// API tokens
	CreateAPIToken(ctx context.Context, t *APIToken) error
	GetAPIToken(ctx context.Context, tokenHash string) (*APIToken, error)
	TouchAPIToken(ctx context.Context, tokenHash string) error
	RevokeAPIToken(ctx context.Context, orgID, tokenHash string) (int64, error)
	ListAPITokens(ctx context.Context, orgID string) ([]APIToken, error)

	// Customers
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, orgID, id string) (*Customer, error)
	ListCustomers(ctx context.Context, orgID string) ([]Customer, error)
	UpdateCustomer(ctx context.Context, c *Customer) (int64, error)
	DeleteCustomer(ctx context.Context, orgID, id string) (int64, error)

	// Vehicles
	CreateVehicle(ctx context.Context, v *Vehicle) error
	GetVehicle(ctx context.Context, orgID, id string) (*Vehicle, error)
	ListVehicles(ctx context.Context, orgID, customerID string) ([]Vehicle, error)
	UpdateVehicle(ctx context.Context, v *Vehicle) (int64, error)
	DeleteVehicle(ctx context.Context, orgID, id string) (int64, error)

	// Quotes
	CreateQuote(ctx context.Context, q *Quote) error
	GetQuote(ctx context.Context, orgID, id string) (*Quote, error)
	ListQuotes(ctx context.Context, orgID string) ([]Quote, error)
	UpdateQuoteStatus(ctx context.Context, orgID, id, status string) (int64, error)
	DeleteQuote(ctx context.Context, orgID, id string) (int64, error)

	// Sync snapshots
	SaveSyncSnapshot(ctx context.Context, s *SyncSnapshot) (int64, error)
	GetSyncSnapshot(ctx context.Context, orgID string, sequence int64) (*SyncSnapshot, error)
	GetLatestSyncSnapshot(ctx context.Context, orgID string) (*SyncSnapshot, error)

	// Backup creates a consistent backup of the database at destPath using VACUUM INTO.
	Backup(ctx context.Context, destPath string) error
}
