package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openfroyo/endstate/pkg/stores"
)

// StoreRecorder records runs in a stores.HistoryStore.
type StoreRecorder struct {
	store stores.HistoryStore
}

// NewStoreRecorder creates a HistoryRecorder backed by store.
func NewStoreRecorder(store stores.HistoryStore) *StoreRecorder {
	return &StoreRecorder{store: store}
}

// RecordRun writes the run, its items and a completion event.
func (h *StoreRecorder) RecordRun(ctx context.Context, rec RunRecord) error {
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	run := &stores.Run{
		ID:           rec.RunID,
		Command:      rec.Command,
		ManifestPath: rec.ManifestPath,
		ManifestHash: rec.ManifestHash,
		DryRun:       rec.DryRun,
		Status:       stores.RunStatusRunning,
		StartedAt:    rec.StartedAt,
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return err
	}

	items := make([]*stores.RunItemRecord, len(rec.Items))
	for i, item := range rec.Items {
		items[i] = &stores.RunItemRecord{
			Seq:     i,
			AppID:   item.ID,
			Driver:  item.Driver,
			Status:  string(item.Status),
			Reason:  item.Reason,
			Message: optional(item.Message),
			Version: optional(item.Version),
		}
	}
	if err := h.store.AppendRunItems(ctx, rec.RunID, items); err != nil {
		return err
	}

	status := stores.RunStatusSucceeded
	level := stores.EventLevelInfo
	var errMsg *string
	switch {
	case rec.Err != nil && errors.Is(rec.Err, &EngineError{Class: ErrorClassFatal, Code: ErrCodeCancelled}):
		status, level = stores.RunStatusAborted, stores.EventLevelWarning
		errMsg = optional(rec.Err.Error())
	case rec.Err != nil:
		status, level = stores.RunStatusFailed, stores.EventLevelError
		errMsg = optional(rec.Err.Error())
	case !rec.Success:
		status, level = stores.RunStatusFailed, stores.EventLevelWarning
	}

	if err := h.store.CompleteRun(ctx, rec.RunID, status, rec.ExitCode, string(summary), errMsg); err != nil {
		return err
	}

	runID := rec.RunID
	return h.store.AppendEvent(ctx, &stores.Event{
		RunID:     &runID,
		Level:     level,
		Message:   fmt.Sprintf("%s %s with exit code %d", rec.Command, status, rec.ExitCode),
		Details:   optional(string(summary)),
		Timestamp: rec.CompletedAt,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
