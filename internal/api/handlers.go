package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"crosschain-router/internal/intent"
	"crosschain-router/internal/route"
	"crosschain-router/internal/session"
	"crosschain-router/internal/version"
)

func respondError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "build": version.Get()})
}

type messageRequest struct {
	Text        string `json:"text"`
	Wallet      string `json:"wallet"`
	HomeNetwork string `json:"home_network"`
}

// postMessage handles POST /v1/sessions/:id/messages.
func (s *Server) postMessage(c *fiber.Ctx) error {
	var req messageRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return respondError(c, fiber.StatusBadRequest, "text is required")
	}

	ctx := c.UserContext()
	id := c.Params("id")

	ic := intent.Context{Wallet: req.Wallet, HomeNetwork: s.opts.HomeNetwork}
	if req.HomeNetwork != "" {
		n, err := route.ParseNetwork(req.HomeNetwork)
		if err != nil {
			return respondError(c, fiber.StatusBadRequest, err.Error())
		}
		ic.HomeNetwork = n
	}
	sess, err := s.machine.Session(ctx, id)
	switch {
	case err == nil:
		ic.AwaitingConfirmation = sess.State == session.StateAwaitingConfirmation
	case !errors.Is(err, session.ErrNotFound):
		return err
	}

	in, err := s.resolver.Parse(ctx, req.Text, ic)
	if err != nil {
		return respondError(c, fiber.StatusBadGateway, "could not interpret message: "+err.Error())
	}
	if in.Text == "" {
		in.Text = req.Text
	}

	resp, err := s.machine.Handle(ctx, id, in)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// postIntent handles POST /v1/sessions/:id/intents with an already structured intent.
func (s *Server) postIntent(c *fiber.Ctx) error {
	var in intent.Intent
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if in.Kind == "" {
		return respondError(c, fiber.StatusBadRequest, "kind is required")
	}
	resp, err := s.machine.Handle(c.UserContext(), c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.machine.Session(c.UserContext(), c.Params("id"))
	if errors.Is(err, session.ErrNotFound) {
		return respondError(c, fiber.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

// quote handles GET /v1/quotes?source=&destination=&asset=&amount=&policy=.
func (s *Server) quote(c *fiber.Ctx) error {
	req, err := quoteRequest(c)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, err.Error())
	}
	set := s.routes.Route(c.UserContext(), req)
	return c.JSON(fiber.Map{"request": req, "routes": set})
}

func quoteRequest(c *fiber.Ctx) (route.RouteRequest, error) {
	src, err := route.ParseNetwork(c.Query("source"))
	if err != nil {
		return route.RouteRequest{}, err
	}
	dst, err := route.ParseNetwork(c.Query("destination"))
	if err != nil {
		return route.RouteRequest{}, err
	}
	asset := strings.ToUpper(strings.TrimSpace(c.Query("asset")))
	if asset == "" {
		return route.RouteRequest{}, errors.New("asset is required")
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		return route.RouteRequest{}, errors.New("amount must be a positive number")
	}
	policy, err := route.ParsePolicy(c.Query("policy"))
	if err != nil {
		return route.RouteRequest{}, err
	}
	return route.RouteRequest{Source: src, Destination: dst, Asset: asset, Amount: amount, Policy: policy}, nil
}

type alertRequest struct {
	SessionID string                 `json:"session_id"`
	Condition route.Condition        `json:"condition"`
	Action    route.AlertAction      `json:"action"`
	Transfer  *route.TransferRequest `json:"transfer,omitempty"`
}

// createAlert handles POST /v1/alerts.
func (s *Server) createAlert(c *fiber.Ctx) error {
	if s.alerts == nil {
		return respondError(c, fiber.StatusNotImplemented, "standing alerts are not enabled")
	}
	var req alertRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		return respondError(c, fiber.StatusBadRequest, "session_id is required")
	}
	id, err := s.alerts.Register(c.UserContext(), req.SessionID, req.Condition, req.Action, req.Transfer)
	if err != nil {
		return respondError(c, fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"alert_id": id})
}

// cancelAlert handles DELETE /v1/alerts/:id.
func (s *Server) cancelAlert(c *fiber.Ctx) error {
	if s.alerts == nil {
		return respondError(c, fiber.StatusNotImplemented, "standing alerts are not enabled")
	}
	ok, err := s.alerts.Cancel(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"cancelled": ok})
}

func (s *Server) listAlerts(c *fiber.Ctx) error {
	if s.alerts == nil {
		return respondError(c, fiber.StatusNotImplemented, "standing alerts are not enabled")
	}
	alerts, err := s.alerts.List(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"alerts": alerts})
}
