package controller

import (
	"net/http"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/service"
)

type ConversationController struct {
	ConversationService *service.ConversationService
}

func (c *ConversationController) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := c.ConversationService.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type AppointmentController struct {
	Booking *booking.Coordinator
}

func (c *AppointmentController) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	appt, err := c.Booking.CompleteAppointment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type SimulationController struct {
	SimulationService *service.SimulationService
}

func (c *SimulationController) Simulate(w http.ResponseWriter, r *http.Request) {
	var body service.SimulationRequest
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	res, err := c.SimulationService.Simulate(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
