package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ActionVisibilityUpdated = "organization.visibility_updated"
	ActionGitHubLinked      = "organization.github_linked"
	ActionMemberAdded       = "member.added"
	ActionMemberRemoved     = "member.removed"
	ActionMemberRoleChanged = "member.role_changed"
	ActionAccessKeyCreated  = "access_key.created"
	ActionAccessKeyRevoked  = "access_key.revoked"
	ActionRepoClaimed       = "repo.claimed"
	ActionRepoTransferred   = "repo.transferred"
	ActionMembersSynced     = "organization.members_synced"
)

type AuditLog struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	UserID         string                 `json:"user_id"`
	Action         string                 `json:"action"`
	ResourceType   string                 `json:"resource_type"`
	ResourceID     string                 `json:"resource_id"`
	Metadata       map[string]interface{} `json:"metadata"`
	IPAddress      string                 `json:"ip_address"`
	UserAgent      string                 `json:"user_agent"`
	CreatedAt      int64                  `json:"created_at"`
}

type requestInfo struct {
	ip string
	ua string
}

type requestKey struct{}

// WithRequest stores the caller's address and user agent so entries logged further down the
// call chain carry them.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return context.WithValue(ctx, requestKey{}, requestInfo{ip: ip, ua: r.UserAgent()})
}

// Logger writes audit entries in the background. Wait blocks until pending writes finish.
type Logger struct {
	db *sql.DB
	wg sync.WaitGroup
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

func (l *Logger) Log(ctx context.Context, orgID, userID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if l == nil {
		return
	}

	ip, ua := "unknown", "unknown"
	if info, ok := ctx.Value(requestKey{}).(requestInfo); ok {
		ip, ua = info.ip, info.ua
	}

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metaJSON, _ := json.Marshal(metadata)

	entry := &AuditLog{
		ID:             "audit_" + uuid.New().String(),
		OrganizationID: orgID,
		UserID:         userID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		IPAddress:      ip,
		UserAgent:      ua,
		CreatedAt:      time.Now().Unix(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		_, err := l.db.Exec(`
			INSERT INTO audit_logs (id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, entry.ID, entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Str("action", entry.Action).Str("org_id", entry.OrganizationID).Msg("failed to write audit log")
		}
	}()
}

func (l *Logger) Wait() {
	l.wg.Wait()
}

// List returns an organization's entries, newest first.
func (l *Logger) List(ctx context.Context, orgID string, limit, offset int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, organization_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE organization_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var entry AuditLog
		var meta string
		if err := rows.Scan(&entry.ID, &entry.OrganizationID, &entry.UserID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &meta, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			entry.Metadata = map[string]interface{}{}
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
