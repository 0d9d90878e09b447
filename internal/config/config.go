package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Addr           string // listen address, e.g. ":8080"
	ManagementAddr string // management listen address for health/metrics (empty = disabled)
	DBPath         string // path to SQLite database file
	MasterKey      string // hex-encoded 32-byte master key for refresh-token encryption and file tokens
	TLS            bool
	CertFile       string
	KeyFile        string

	// Session and token lifetimes.
	SessionTTL   time.Duration // browser session lifetime
	APITokenTTL  time.Duration // default API token lifetime (0 = no expiry)
	FileTokenTTL time.Duration // signed file download token lifetime

	// Organization display cache.
	OrgCacheSize int           // LRU entries for organization display data
	OrgCacheTTL  time.Duration // expiry for organization display cache

	// Desktop sync.
	MaxSnapshotBytes int // max compressed snapshot upload size (bytes)

	// Backup.
	BackupDir       string        // directory for VACUUM INTO backups (empty = disabled)
	BackupInterval  time.Duration // interval between scheduled backups
	BackupRetention int           // number of backups to keep

	// OIDC settings for browser login.
	OIDCIssuer         string // OIDC provider discovery URL (empty = login disabled)
	OIDCClientID       string // OAuth2 client ID
	OIDCClientSecret   string // OAuth2 client secret
	OIDCRedirectURL    string // callback URL registered with the provider
	OIDCAllowedDomains string // comma-separated allowed email domains
	OIDCScopes         string // additional scopes (default: "profile,email")

	// Role presets file path (empty = no presets offered).
	RolePresetsPath string

	// Logging.
	LogFormat string // "json" (default) or "text"
	AuditLogs bool   // enable audit logging (default true)
}

func Parse() *Config {
	c := &Config{}
	flag.StringVar(&c.Addr, "addr", ":8080", "listen address")
	flag.StringVar(&c.ManagementAddr, "management-addr", "", "management listen address for health and metrics (empty = disabled)")
	flag.StringVar(&c.DBPath, "db", "workshop-backend.db", "SQLite database path")
	flag.StringVar(&c.MasterKey, "master-key", "", "hex-encoded 32-byte master key for secrets (auto-generated if empty)")
	flag.BoolVar(&c.TLS, "tls", false, "enable TLS")
	flag.StringVar(&c.CertFile, "cert", "", "TLS certificate file")
	flag.StringVar(&c.KeyFile, "key", "", "TLS key file")

	// Lifetime flags.
	flag.DurationVar(&c.SessionTTL, "session-ttl", 7*24*time.Hour, "browser session lifetime")
	flag.DurationVar(&c.APITokenTTL, "api-token-ttl", 0, "default API token lifetime (0 = no expiry)")
	flag.DurationVar(&c.FileTokenTTL, "file-token-ttl", 5*time.Minute, "signed file download token lifetime")

	// Cache flags.
	flag.IntVar(&c.OrgCacheSize, "org-cache-size", 256, "LRU cache size for organization display data")
	flag.DurationVar(&c.OrgCacheTTL, "org-cache-ttl", time.Minute, "expiry for organization display cache")

	// Sync flags.
	flag.IntVar(&c.MaxSnapshotBytes, "max-snapshot-bytes", 32*1024*1024, "max compressed snapshot upload size (bytes)")

	// Backup flags.
	flag.StringVar(&c.BackupDir, "backup-dir", "", "directory for database backups (empty = disabled)")
	flag.DurationVar(&c.BackupInterval, "backup-interval", 6*time.Hour, "interval between scheduled backups")
	flag.IntVar(&c.BackupRetention, "backup-retention", 14, "number of backups to keep")

	// OIDC flags.
	flag.StringVar(&c.OIDCIssuer, "oidc-issuer", "", "OIDC provider discovery URL (empty = browser login disabled)")
	flag.StringVar(&c.OIDCClientID, "oidc-client-id", "", "OIDC OAuth2 client ID")
	flag.StringVar(&c.OIDCClientSecret, "oidc-client-secret", "", "OIDC OAuth2 client secret")
	flag.StringVar(&c.OIDCRedirectURL, "oidc-redirect-url", "", "OIDC callback URL registered with the provider")
	flag.StringVar(&c.OIDCAllowedDomains, "oidc-allowed-domains", "", "comma-separated allowed email domains")
	flag.StringVar(&c.OIDCScopes, "oidc-scopes", "profile,email", "additional OIDC scopes beyond openid")

	flag.StringVar(&c.RolePresetsPath, "role-presets", "", "path to role presets YAML (empty = no presets offered)")

	// Logging flags.
	flag.StringVar(&c.LogFormat, "log-format", "json", "log format: json or text")
	flag.BoolVar(&c.AuditLogs, "audit-logs", true, "enable structured audit logging")

	flag.Parse()

	// Allow env overrides.
	if v := os.Getenv("WORKSHOP_BACKEND_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_MANAGEMENT_ADDR"); v != "" {
		c.ManagementAddr = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_MASTER_KEY"); v != "" {
		c.MasterKey = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionTTL = d
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_API_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.APITokenTTL = d
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_FILE_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.FileTokenTTL = d
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_ORG_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OrgCacheSize = n
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_ORG_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.OrgCacheTTL = d
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_MAX_SNAPSHOT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSnapshotBytes = n
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_BACKUP_DIR"); v != "" {
		c.BackupDir = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackupInterval = d
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackupRetention = n
		}
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_ISSUER"); v != "" {
		c.OIDCIssuer = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_CLIENT_ID"); v != "" {
		c.OIDCClientID = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDCClientSecret = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_REDIRECT_URL"); v != "" {
		c.OIDCRedirectURL = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_ALLOWED_DOMAINS"); v != "" {
		c.OIDCAllowedDomains = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_OIDC_SCOPES"); v != "" {
		c.OIDCScopes = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_ROLE_PRESETS"); v != "" {
		c.RolePresetsPath = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("WORKSHOP_BACKEND_AUDIT_LOGS"); v == "false" {
		c.AuditLogs = false
	}

	if c.MasterKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate master key: %v\n", err)
			os.Exit(1)
		}
		c.MasterKey = hex.EncodeToString(key)
		fmt.Fprintf(os.Stderr, "WARNING: auto-generated master key (will not survive restart unless you persist it):\n")
		fmt.Fprintf(os.Stderr, "  export WORKSHOP_BACKEND_MASTER_KEY=%s\n\n", c.MasterKey)
	}

	return c
}

func (c *Config) MasterKeyBytes() ([]byte, error) {
	return hex.DecodeString(c.MasterKey)
}
