package web

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/mvsense/pkg/hub"
	"github.com/teslashibe/mvsense/pkg/mqttbus"
	"github.com/teslashibe/mvsense/pkg/trigger"
)

// Status is the payload of GET /api/status.
type Status struct {
	State    trigger.State        `json:"state"`
	Serial   string               `json:"serial,omitempty"`
	Uptime   string               `json:"uptime"`
	Triggers trigger.Stats        `json:"triggers"`
	Bus      *mqttbus.ClientStats `json:"bus,omitempty"`
	Clients  int                  `json:"ws_clients"`
	Dropped  int64                `json:"ws_dropped"`
	LastRun  *time.Time           `json:"last_run,omitempty"`
}

// TriggerResponse is the payload of POST /api/trigger.
type TriggerResponse struct {
	Queued    bool       `json:"queued"`
	Coalesced bool       `json:"coalesced"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	stats := s.dispatcher.Stats()
	st := Status{
		State:    stats.State,
		Serial:   s.cfg.Serial,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Triggers: stats,
		Clients:  s.results.ClientCount(),
		Dropped:  s.results.Dropped(),
	}
	if s.bus != nil {
		bs := s.bus.Stats()
		st.Bus = &bs
	}
	if res, ok := s.source.LastResult(); ok {
		st.LastRun = &res.StartedAt
	}
	return c.JSON(st)
}

func (s *Server) handleResult(c *fiber.Ctx) error {
	res, ok := s.source.LastResult()
	if !ok {
		return fiber.NewError(http.StatusNotFound, "no result yet")
	}
	return c.JSON(res)
}

func (s *Server) handleTrigger(c *fiber.Ctx) error {
	ev := trigger.Event{Source: trigger.SourceManual, Topic: c.Path()}

	var resp TriggerResponse
	if raw := c.Query("timestamp"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "timestamp must be RFC3339")
		}
		ev.Timestamp = ts
		resp.Timestamp = &ts
	}

	resp.Queued = s.dispatcher.Trigger(ev)
	resp.Coalesced = !resp.Queued
	s.logger.Info("manual trigger", "queued", resp.Queued, "timestamp", ev.Timestamp)

	return c.Status(http.StatusAccepted).JSON(resp)
}

func (s *Server) handleResultsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.results, conn)
	if client == nil {
		return
	}
	client.Run()
}
