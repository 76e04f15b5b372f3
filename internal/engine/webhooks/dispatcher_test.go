package webhooks

import (
	"context"
	"testing"
)

type recordingHandler struct {
	deleted []int64
	added   []Repository
	removed []Repository
}

func (h *recordingHandler) InstallationDeleted(ctx context.Context, id int64) error {
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *recordingHandler) RepositoriesAdded(ctx context.Context, id int64, repos []Repository) error {
	h.added = append(h.added, repos...)
	return nil
}

func (h *recordingHandler) RepositoriesRemoved(ctx context.Context, id int64, repos []Repository) error {
	h.removed = append(h.removed, repos...)
	return nil
}

func TestDispatch(t *testing.T) {
	h := &recordingHandler{}
	d := NewDispatcher(h)
	ctx := context.Background()

	if err := d.Dispatch(ctx, "installation", []byte(`{"action":"deleted","installation":{"id":12}}`)); err != nil {
		t.Fatalf("Dispatch(installation) error = %v", err)
	}
	if len(h.deleted) != 1 || h.deleted[0] != 12 {
		t.Errorf("expected installation 12 deleted, got %v", h.deleted)
	}

	payload := `{"action":"removed","installation":{"id":12},"repositories_removed":[{"id":1,"name":"a","full_name":"acme/a"}]}`
	if err := d.Dispatch(ctx, "installation_repositories", []byte(payload)); err != nil {
		t.Fatalf("Dispatch(removed) error = %v", err)
	}
	if len(h.removed) != 1 || h.removed[0].FullName != "acme/a" {
		t.Errorf("unexpected removed repos %v", h.removed)
	}

	payload = `{"action":"added","installation":{"id":12},"repositories_added":[{"id":2,"name":"b","full_name":"acme/b"}]}`
	if err := d.Dispatch(ctx, "installation_repositories", []byte(payload)); err != nil {
		t.Fatalf("Dispatch(added) error = %v", err)
	}
	if len(h.added) != 1 || h.added[0].ID != 2 {
		t.Errorf("unexpected added repos %v", h.added)
	}

	if err := d.Dispatch(ctx, "push", []byte(`not json`)); err != nil {
		t.Errorf("unrelated events must be ignored, got %v", err)
	}
	if err := d.Dispatch(ctx, "installation", []byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
}
