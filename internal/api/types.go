package api

import (
	"github.com/wrenchio/workshop-backend/internal/auth"
)

// --- Credential mixins ---

// Credentials carries the request credentials every protected operation
// accepts: a session cookie for browsers or a bearer API token for desktop
// clients. X-Active-Org overrides the session's stored organization selection
// for this request only.
type Credentials struct {
	SessionToken  string `cookie:"wks_session" required:"false" doc:"Browser session token"`
	ActiveOrg     string `header:"X-Active-Org" required:"false" doc:"Organization selector for this request"`
	Authorization string `header:"Authorization" required:"false" doc:"Bearer API token for desktop clients"`
}

// Envelope wraps every successful response in the uniform gate result shape.
type Envelope[T any] struct {
	Body auth.Result[T]
}

// --- Reusable response types ---

// UserInfo describes the authenticated user.
type UserInfo struct {
	ID            string           `json:"id"`
	Email         string           `json:"email"`
	Name          string           `json:"name"`
	Role          string           `json:"role"`
	OrgID         string           `json:"orgId,omitempty"`
	IsSuperAdmin  bool             `json:"isSuperAdmin,omitempty"`
	Organizations []MembershipInfo `json:"organizations"`
}

// MembershipInfo is one organization a user belongs to.
type MembershipInfo struct {
	OrgID   string `json:"orgId"`
	OrgName string `json:"orgName"`
	Role    string `json:"role"`
}

// OrgInfo describes an organization.
type OrgInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

// MemberInfo is a team member entry in listings.
type MemberInfo struct {
	UserID       string  `json:"userId"`
	Email        string  `json:"email"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	CustomRoleID *string `json:"customRoleId,omitempty"`
	JoinedAt     int64   `json:"joinedAt"`
}

// RoleInfo describes a custom role.
type RoleInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	IsAdmin     bool     `json:"isAdmin"`
	Permissions []string `json:"permissions"`
}

// RolePresetInfo is a suggested role definition from the presets file.
type RolePresetInfo struct {
	Name        string   `json:"name"`
	IsAdmin     bool     `json:"isAdmin"`
	Permissions []string `json:"permissions"`
}

// InvitationInfo describes a pending invitation.
type InvitationInfo struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Role         string  `json:"role"`
	CustomRoleID *string `json:"customRoleId,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
	Accepted     bool    `json:"accepted"`
}

// TokenInfo describes an API token in listings. The token value itself is
// only ever returned once, at creation.
type TokenInfo struct {
	ID          string `json:"id"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
	CreatedAt   int64  `json:"createdAt"`
	LastUsedAt  *int64 `json:"lastUsedAt,omitempty"`
	ExpiresAt   *int64 `json:"expiresAt,omitempty"`
	Revoked     bool   `json:"revoked"`
}

// CreatedTokenInfo is the one-time creation response carrying the raw token.
type CreatedTokenInfo struct {
	ID         string `json:"id"`
	TokenValue string `json:"tokenValue"`
}

// CustomerInfo describes a workshop customer.
type CustomerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// VehicleInfo describes a customer vehicle.
type VehicleInfo struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	Year       int    `json:"year,omitempty"`
	Plate      string `json:"plate,omitempty"`
	VIN        string `json:"vin,omitempty"`
	CreatedAt  int64  `json:"createdAt"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// QuoteInfo describes a repair quote.
type QuoteInfo struct {
	ID          string `json:"id"`
	VehicleID   string `json:"vehicleId"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	TotalCents  int64  `json:"totalCents"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// HandshakeInfo is the desktop sync handshake response.
type HandshakeInfo struct {
	OrgID          string `json:"orgId"`
	OrgName        string `json:"orgName"`
	LatestSequence int64  `json:"latestSequence"`
}

// SnapshotInfo acknowledges a snapshot upload.
type SnapshotInfo struct {
	Sequence int64  `json:"sequence"`
	Hash     string `json:"hash"`
}

// FileURLInfo carries a short-lived signed download URL.
type FileURLInfo struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Empty is the data payload for operations with nothing to return.
type Empty struct{}

// --- Health ---

type HealthCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// --- User ---

type GetUserInput struct {
	Credentials
}

type SelectOrgInput struct {
	Credentials
	Body struct {
		OrgID string `json:"orgId" doc:"Organization to select as active"`
	}
}

type LogoutInput struct {
	Credentials
}

// --- Organizations ---

type CreateOrgInput struct {
	Credentials
	Body struct {
		Name    string `json:"name"`
		Address string `json:"address,omitempty"`
		Phone   string `json:"phone,omitempty"`
	}
}

type GetOrgInput struct {
	Credentials
}

type UpdateOrgInput struct {
	Credentials
	Body struct {
		Name    string `json:"name,omitempty"`
		Address string `json:"address,omitempty"`
		Phone   string `json:"phone,omitempty"`
	}
}

// --- Team ---

type ListMembersInput struct {
	Credentials
}

type UpdateMemberInput struct {
	Credentials
	UserID string `path:"userID" doc:"Member user ID"`
	Body   struct {
		Role         string  `json:"role"`
		CustomRoleID *string `json:"customRoleId,omitempty"`
	}
}

type RemoveMemberInput struct {
	Credentials
	UserID string `path:"userID" doc:"Member user ID"`
}

type ListRolesInput struct {
	Credentials
}

type CreateRoleInput struct {
	Credentials
	Body struct {
		Name        string   `json:"name"`
		IsAdmin     bool     `json:"isAdmin,omitempty"`
		Permissions []string `json:"permissions,omitempty"`
	}
}

type DeleteRoleInput struct {
	Credentials
	RoleID string `path:"roleID" doc:"Custom role ID"`
}

type ListRolePresetsInput struct {
	Credentials
}

type ListInvitationsInput struct {
	Credentials
}

type CreateInvitationInput struct {
	Credentials
	Body struct {
		Email        string  `json:"email"`
		Role         string  `json:"role"`
		CustomRoleID *string `json:"customRoleId,omitempty"`
	}
}

type DeleteInvitationInput struct {
	Credentials
	InvitationID string `path:"invitationID" doc:"Invitation ID"`
}

type AcceptInvitationInput struct {
	Credentials
	InvitationID string `path:"invitationID" doc:"Invitation ID"`
}

// --- API tokens ---

type ListTokensInput struct {
	Credentials
}

type CreateTokenInput struct {
	Credentials
	Body struct {
		Description string `json:"description"`
		Expires     int64  `json:"expires,omitempty" doc:"Unix expiry timestamp (0 = server default)"`
	}
}

type RevokeTokenInput struct {
	Credentials
	TokenID string `path:"tokenID" doc:"Token ID (hash)"`
}

// --- Customers ---

type ListCustomersInput struct {
	Credentials
}

type CreateCustomerInput struct {
	Credentials
	Body struct {
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
	}
}

type GetCustomerInput struct {
	Credentials
	CustomerID string `path:"customerID" doc:"Customer ID"`
}

type UpdateCustomerInput struct {
	Credentials
	CustomerID string `path:"customerID" doc:"Customer ID"`
	Body       struct {
		Name  string `json:"name,omitempty"`
		Email string `json:"email,omitempty"`
		Phone string `json:"phone,omitempty"`
	}
}

type DeleteCustomerInput struct {
	Credentials
	CustomerID string `path:"customerID" doc:"Customer ID"`
}

// --- Vehicles ---

type ListVehiclesInput struct {
	Credentials
	CustomerID string `query:"customerId" required:"false" doc:"Filter by customer"`
}

type CreateVehicleInput struct {
	Credentials
	Body struct {
		CustomerID string `json:"customerId"`
		Make       string `json:"make,omitempty"`
		Model      string `json:"model,omitempty"`
		Year       int    `json:"year,omitempty"`
		Plate      string `json:"plate,omitempty"`
		VIN        string `json:"vin,omitempty"`
	}
}

type GetVehicleInput struct {
	Credentials
	VehicleID string `path:"vehicleID" doc:"Vehicle ID"`
}

type UpdateVehicleInput struct {
	Credentials
	VehicleID string `path:"vehicleID" doc:"Vehicle ID"`
	Body      struct {
		CustomerID string `json:"customerId,omitempty"`
		Make       string `json:"make,omitempty"`
		Model      string `json:"model,omitempty"`
		Year       int    `json:"year,omitempty"`
		Plate      string `json:"plate,omitempty"`
		VIN        string `json:"vin,omitempty"`
	}
}

type DeleteVehicleInput struct {
	Credentials
	VehicleID string `path:"vehicleID" doc:"Vehicle ID"`
}

// --- Quotes ---

type ListQuotesInput struct {
	Credentials
}

type CreateQuoteInput struct {
	Credentials
	Body struct {
		VehicleID   string `json:"vehicleId"`
		Description string `json:"description,omitempty"`
		TotalCents  int64  `json:"totalCents,omitempty"`
	}
}

type GetQuoteInput struct {
	Credentials
	QuoteID string `path:"quoteID" doc:"Quote ID"`
}

type UpdateQuoteStatusInput struct {
	Credentials
	QuoteID string `path:"quoteID" doc:"Quote ID"`
	Body    struct {
		Status string `json:"status" doc:"draft, sent, approved, or invoiced"`
	}
}

type DeleteQuoteInput struct {
	Credentials
	QuoteID string `path:"quoteID" doc:"Quote ID"`
}

// --- Desktop sync ---

type HandshakeInput struct {
	Credentials
}

type UploadSnapshotInput struct {
	Credentials
	RawBody []byte `contentType:"application/octet-stream" doc:"gzip-compressed JSON snapshot"`
}

type DownloadSnapshotInput struct {
	Credentials
}

type FileURLInput struct {
	Credentials
	FileID string `path:"fileID" doc:"File ID"`
}

type DownloadFileInput struct {
	FileID string `path:"fileID" doc:"File ID"`
	Token  string `query:"token" doc:"Signed file token"`
}

// --- Admin ---

type AdminListOrgsInput struct {
	Credentials
}

type AdminDisableUserInput struct {
	Credentials
	UserID string `path:"userID" doc:"User ID"`
	Body   struct {
		Disabled bool `json:"disabled"`
	}
}

type AdminBackupInput struct {
	Credentials
}
