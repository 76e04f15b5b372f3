package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Account struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

type Repository struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	Private  bool   `json:"private"`
}

type Installation struct {
	ID      int64   `json:"id"`
	Account Account `json:"account"`
}

// InstallationEvent covers the "installation" and "installation_repositories" events.
type InstallationEvent struct {
	Action              string       `json:"action"`
	Installation        Installation `json:"installation"`
	Repositories        []Repository `json:"repositories"`
	RepositoriesAdded   []Repository `json:"repositories_added"`
	RepositoriesRemoved []Repository `json:"repositories_removed"`
}

// Handler reacts to App lifecycle changes.
type Handler interface {
	InstallationDeleted(ctx context.Context, installationID int64) error
	RepositoriesAdded(ctx context.Context, installationID int64, repos []Repository) error
	RepositoriesRemoved(ctx context.Context, installationID int64, repos []Repository) error
}

type Dispatcher struct {
	handler Handler
}

func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{handler: handler}
}

// Dispatch decodes payload according to the X-GitHub-Event name and calls the handler.
// Events GRIP does not act on are acknowledged and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case "installation", "installation_repositories":
	case "ping":
		return nil
	default:
		log.Debug().Str("event", eventType).Msg("ignoring github webhook event")
		return nil
	}

	var event InstallationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("invalid %s payload: %w", eventType, err)
	}
	instID := event.Installation.ID

	switch {
	case eventType == "installation" && event.Action == "deleted":
		return d.handler.InstallationDeleted(ctx, instID)
	case eventType == "installation_repositories" && event.Action == "removed":
		return d.handler.RepositoriesRemoved(ctx, instID, event.RepositoriesRemoved)
	case eventType == "installation_repositories" && event.Action == "added":
		return d.handler.RepositoriesAdded(ctx, instID, event.RepositoriesAdded)
	}

	log.Debug().Str("event", eventType).Str("action", event.Action).Int64("installation_id", instID).Msg("no action for github webhook")
	return nil
}
