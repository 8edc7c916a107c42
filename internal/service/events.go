package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/indijan/arbiter/internal/domain"
)

// Lifecycle event names.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventTickCompleted  = "tick_completed"
	EventTickFailed     = "tick_failed"
)

// Notifier delivers operator alerts. It is satisfied by *notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Events fans a lifecycle event out to the audit log, the event bus and the
// notifier. Every sink is optional and failures are logged, never returned.
type Events struct {
	audit    domain.AuditStore
	bus      domain.SignalBus
	channel  string
	notifier Notifier
	logger   *slog.Logger
}

// NewEvents creates an Events sink. Any of audit, bus and notifier may be nil.
func NewEvents(audit domain.AuditStore, bus domain.SignalBus, channel string, notifier Notifier, logger *slog.Logger) *Events {
	return &Events{
		audit:    audit,
		bus:      bus,
		channel:  channel,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Emit records event with detail.
func (e *Events) Emit(ctx context.Context, event string, detail map[string]any) {
	if e == nil {
		return
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.bus != nil {
		payload := make(map[string]any, len(detail)+2)
		for k, v := range detail {
			payload[k] = v
		}
		payload["event"] = event
		payload["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
		raw, err := json.Marshal(payload)
		if err == nil {
			err = e.bus.Publish(ctx, e.channel, raw)
		}
		if err != nil {
			e.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, event, eventTitle(event), formatDetail(detail)); err != nil {
			e.logger.WarnContext(ctx, "notify failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func eventTitle(event string) string {
	if event == "" {
		return ""
	}
	return strings.ToUpper(event[:1]) + strings.ReplaceAll(event[1:], "_", " ")
}

// formatDetail renders detail as sorted key=value lines.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, detail[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
