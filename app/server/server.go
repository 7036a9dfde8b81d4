package server

import (
	"bufio"
	"bytes"
	"context"
	"critiquebar/app/config"
	"critiquebar/app/service/chat"
	"critiquebar/app/service/critique"
	"critiquebar/app/service/identity"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/do"
)

var _ do.Shutdownable = (*Server)(nil)

// Server exposes the chat session over HTTP. Replies are streamed back as
// server-sent events.
type Server struct {
	ctx         context.Context
	cfg         *config.Config
	session     *chat.Session
	identitySvc *identity.Service
	validate    *validator.Validate
	app         *fiber.App

	shutdownOnce sync.Once
	shutdownErr  error
}

func New(di *do.Injector) (*Server, error) {
	s := &Server{
		ctx:         do.MustInvoke[context.Context](di),
		cfg:         do.MustInvoke[*config.Config](di),
		session:     do.MustInvoke[*chat.Session](di),
		identitySvc: do.MustInvoke[*identity.Service](di),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "critiquebar",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	api := s.app.Group("/api")
	api.Post("/send", s.handleSend)
	api.Post("/reset", s.handleReset)
	api.Get("/state", s.handleState)
	api.Get("/transcript", s.handleTranscript)
	api.Get("/transcript/:position/document", s.handleDocument)
	api.Put("/identity", s.handleIdentity)

	return s, nil
}

func (s *Server) Run() error {
	slog.Info("HTTP server listening", "address", s.cfg.Server.Listen)

	if err := s.app.Listen(s.cfg.Server.Listen); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	return nil
}

func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.app.Shutdown()
	})

	return s.shutdownErr
}

type sendRequest struct {
	Text        string   `json:"text" validate:"required_without=ImageBase64"`
	ImageBase64 string   `json:"image_base64" validate:"omitempty,base64"`
	Tags        []string `json:"tags" validate:"omitempty,dive,required"`
}

type streamEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta,omitempty"`
	Content  string             `json:"content,omitempty"`
	Error    string             `json:"error,omitempty"`
	Document *critique.Document `json:"document,omitempty"`
}

func (s *Server) handleSend(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	sendReq := chat.SendRequest{
		Text: req.Text,
		Tags: req.Tags,
	}

	if req.ImageBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid image encoding")
		}

		img, err := chat.DecodeImage(bytes.NewReader(data))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, chat.Describe(err))
		}
		sendReq.Image = img
	}

	// the turn outlives the handler, so it is bound to the app context
	events, err := s.session.Send(s.ctx, sendReq)
	if errors.Is(err, chat.ErrBusy) {
		return fiber.NewError(fiber.StatusConflict, "a reply is still streaming")
	}
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		writable := true

		for ev := range events {
			if !writable {
				continue
			}

			if err := writeEvent(w, toStreamEvent(ev)); err != nil {
				slog.Debug("Client went away, draining turn", "error", err)
				writable = false
			}
		}
	})

	return nil
}

func toStreamEvent(ev chat.Event) streamEvent {
	switch ev.Type {
	case chat.EventDelta:
		return streamEvent{Type: "content", Delta: ev.Text}
	case chat.EventDone:
		doc := critique.Parse(ev.Text)
		if doc.IsEmpty() {
			doc = nil
		}
		return streamEvent{Type: "done", Content: ev.Text, Document: doc}
	default:
		return streamEvent{Type: "error", Error: chat.Describe(ev.Err)}
	}
}

func writeEvent(w *bufio.Writer, ev streamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err = fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}

	return w.Flush()
}

type stateResponse struct {
	State          string `json:"state"`
	ConversationID string `json:"conversation_id,omitempty"`
	SignedIn       bool   `json:"signed_in"`
}

func (s *Server) stateResponse() stateResponse {
	return stateResponse{
		State:          s.session.State().String(),
		ConversationID: s.session.ConversationID(),
		SignedIn:       s.identitySvc.Current() != "",
	}
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	s.session.Reset(c.UserContext())

	return c.JSON(s.stateResponse())
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.stateResponse())
}

type transcriptResponse struct {
	stateResponse
	Turns []chat.Turn `json:"turns"`
}

func (s *Server) handleTranscript(c *fiber.Ctx) error {
	return c.JSON(transcriptResponse{
		stateResponse: s.stateResponse(),
		Turns:         s.session.Transcript(),
	})
}

type documentResponse struct {
	Position int                `json:"position"`
	Text     string             `json:"text"`
	Empty    bool               `json:"empty"`
	Document *critique.Document `json:"document"`
}

func (s *Server) handleDocument(c *fiber.Ctx) error {
	position, err := c.ParamsInt("position")
	if err != nil || position < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "invalid position")
	}

	turns := s.session.Transcript()
	index := pie.FindFirstUsing(turns, func(t chat.Turn) bool {
		return t.Position == position
	})
	if index < 0 {
		return fiber.NewError(fiber.StatusNotFound, "turn not found")
	}

	turn := turns[index]
	if turn.Role != chat.RoleAssistant {
		return fiber.NewError(fiber.StatusBadRequest, "only assistant turns carry a critique")
	}

	doc := critique.Parse(turn.Text)

	return c.JSON(documentResponse{
		Position: turn.Position,
		Text:     turn.Text,
		Empty:    doc.IsEmpty(),
		Document: doc,
	})
}

type identityRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
}

func (s *Server) handleIdentity(c *fiber.Ctx) error {
	var req identityRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid email")
	}

	changed := s.identitySvc.Set(req.Email)

	return c.JSON(fiber.Map{
		"changed":   changed,
		"signed_in": s.identitySvc.Current() != "",
	})
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	if code >= fiber.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Method(),
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
