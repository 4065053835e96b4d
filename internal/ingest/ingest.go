// Package ingest wires validation, truncation, storage (which prices the
// event), and SSE fan-out into the pipeline behind the HTTP event API. The
// OTLP handlers and the importer do not use it: they truncate and call
// store.InsertEvent themselves, and the importer broadcasts no SSE frames.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/davisbuilds/agentmonitor/internal/sse"
	"github.com/davisbuilds/agentmonitor/internal/store"
	"github.com/davisbuilds/agentmonitor/internal/truncate"
	"github.com/davisbuilds/agentmonitor/internal/validate"
)

// Pipeline composes the storage engine and SSE hub behind the
// truncate-then-insert-then-broadcast contract.
type Pipeline struct {
	Store        *store.Store
	Hub          *sse.Hub
	MaxPayloadKB int
}

// New builds a Pipeline. maxPayloadKB is the configured metadata truncation
// budget (spec's max_payload_kb).
func New(st *store.Store, hub *sse.Hub, maxPayloadKB int) *Pipeline {
	return &Pipeline{Store: st, Hub: hub, MaxPayloadKB: maxPayloadKB}
}

// Outcome reports how one event was handled.
type Outcome struct {
	Event     store.Event
	Duplicate bool
}

// IngestOne normalizes, truncates, stores, and broadcasts a single raw
// event payload. FieldErrors is non-nil (and Outcome zero) when validation
// rejected the payload.
func (p *Pipeline) IngestOne(ctx context.Context, raw any) (Outcome, []validate.FieldError, error) {
	event, fieldErrs := validate.NormalizeFromValue(raw)
	if len(fieldErrs) > 0 {
		return Outcome{}, fieldErrs, nil
	}

	params, err := p.buildParams(event)
	if err != nil {
		return Outcome{}, nil, err
	}

	res, err := p.Store.InsertEvent(ctx, params)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("ingest: insert event: %w", err)
	}
	if res.Duplicate {
		return Outcome{Duplicate: true}, nil, nil
	}

	p.broadcastEvent(res.Event)
	return Outcome{Event: res.Event}, nil, nil
}

// BatchRejection describes one rejected item's position and reasons, for
// the partial-rejection batch envelope.
type BatchRejection struct {
	Index  int
	Errors []string
}

// BatchResult is the outcome of POST /api/events/batch.
type BatchResult struct {
	IDs        []int64
	Duplicates int
	Rejected   []BatchRejection
}

// IngestBatch normalizes and stores every item in items independently:
// a rejection or storage error at one index never aborts the rest.
func (p *Pipeline) IngestBatch(ctx context.Context, items []any) (BatchResult, error) {
	var result BatchResult

	for i, item := range items {
		event, fieldErrs := validate.NormalizeFromValue(item)
		if len(fieldErrs) > 0 {
			errs := make([]string, len(fieldErrs))
			for j, fe := range fieldErrs {
				errs[j] = fe.Error()
			}
			result.Rejected = append(result.Rejected, BatchRejection{Index: i, Errors: errs})
			continue
		}

		params, err := p.buildParams(event)
		if err != nil {
			result.Rejected = append(result.Rejected, BatchRejection{Index: i, Errors: []string{err.Error()}})
			continue
		}

		res, err := p.Store.InsertEvent(ctx, params)
		if err != nil {
			result.Rejected = append(result.Rejected, BatchRejection{Index: i, Errors: []string{"internal server error"}})
			continue
		}
		if res.Duplicate {
			result.Duplicates++
			continue
		}

		result.IDs = append(result.IDs, res.Event.ID)
		p.broadcastEvent(res.Event)
	}

	return result, nil
}

func (p *Pipeline) buildParams(event validate.NormalizedEvent) (store.InsertEventParams, error) {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return store.InsertEventParams{}, fmt.Errorf("ingest: marshal metadata: %w", err)
	}

	truncated, err := truncate.Truncate(json.RawMessage(metadataJSON), p.MaxPayloadKB)
	if err != nil {
		return store.InsertEventParams{}, fmt.Errorf("ingest: truncate metadata: %w", err)
	}

	source := store.Source(event.Source)
	if source == "" {
		source = store.SourceAPI
	}

	return store.InsertEventParams{
		EventID:          event.EventID,
		SessionID:        event.SessionID,
		AgentType:        event.AgentType,
		EventType:        event.EventType,
		ToolName:         event.ToolName,
		Status:           event.Status,
		TokensIn:         event.TokensIn,
		TokensOut:        event.TokensOut,
		CacheReadTokens:  event.CacheReadTokens,
		CacheWriteTokens: event.CacheWriteTokens,
		Branch:           event.Branch,
		Project:          event.Project,
		DurationMS:       event.DurationMS,
		ClientTimestamp:  event.ClientTimestamp,
		Metadata:         string(truncated.Value),
		PayloadTruncated: truncated.Truncated,
		Model:            event.Model,
		CostUSD:          event.CostUSD,
		Source:           source,
	}, nil
}

// broadcastEvent fans the stored row out to every SSE subscriber as an
// "event" frame, and a lightweight "session_update" frame so dashboards can
// refresh session rollups without re-fetching every event.
func (p *Pipeline) broadcastEvent(event store.Event) {
	if p.Hub == nil {
		return
	}
	p.Hub.Broadcast("event", event)
	p.Hub.Broadcast("session_update", map[string]any{
		"session_id": event.SessionID,
		"agent_type": event.AgentType,
	})
}
