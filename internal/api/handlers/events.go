package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/passgate/internal/auth"
	"github.com/your-org/passgate/internal/identity"
	"github.com/your-org/passgate/pkg/dto"
)

type EventHandler struct {
	people *identity.Service
}

func NewEventHandler(people *identity.Service) *EventHandler {
	return &EventHandler{people: people}
}

func (h *EventHandler) List(c *gin.Context) {
	events, err := h.people.ListEvents(c.Request.Context(), auth.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: events, Total: len(events)})
}

func (h *EventHandler) Create(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ev, err := h.people.CreateEvent(c.Request.Context(), auth.ActorFrom(c), req.Name, req.ScheduledAt, req.Persistent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}
