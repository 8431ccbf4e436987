package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"claimbridge/observability/audit"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBacklogLimit = 500
)

type auditPayload struct {
	ID         uint              `json:"id"`
	Domain     string            `json:"domain"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// handleAuditWS streams audit records. ?domain= narrows the stream and
// ?since= (RFC 3339) replays stored records first.
func (s *Server) handleAuditWS(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit log disabled", http.StatusServiceUnavailable)
		return
	}
	filter := audit.Filter{Domain: strings.TrimSpace(r.URL.Query().Get("domain")), Limit: wsBacklogLimit}
	replay := false
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		filter.Since = since
		replay = true
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamAudit(ctx, conn, filter, replay); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamAudit(ctx context.Context, conn *websocket.Conn, filter audit.Filter, replay bool) error {
	updates, cancel := s.audit.Subscribe(0)
	defer cancel()

	var lastID uint
	if replay {
		backlog, err := s.audit.List(filter)
		if err != nil {
			return err
		}
		for _, rec := range backlog {
			if err := writeAuditRecord(ctx, conn, rec); err != nil {
				return err
			}
			lastID = rec.ID
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if rec.ID <= lastID {
				continue
			}
			if filter.Domain != "" && rec.Domain != filter.Domain {
				continue
			}
			if err := writeAuditRecord(ctx, conn, rec); err != nil {
				return err
			}
		}
	}
}

func writeAuditRecord(ctx context.Context, conn *websocket.Conn, rec audit.Record) error {
	attrs, err := rec.Attrs()
	if err != nil {
		return err
	}
	data, err := json.Marshal(auditPayload{
		ID:         rec.ID,
		Domain:     rec.Domain,
		Type:       rec.Type,
		Attributes: attrs,
		RecordedAt: rec.RecordedAt,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
