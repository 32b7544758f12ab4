package controller

import (
	"net/http"

	"github.com/unclebandit/leadreach-backend/internal/model"
	"github.com/unclebandit/leadreach-backend/internal/service"
)

type LeadController struct {
	LeadService         *service.LeadService
	ConversationService *service.ConversationService
}

func (c *LeadController) CreateLead(w http.ResponseWriter, r *http.Request) {
	var body service.LeadInput
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	lead, err := c.LeadService.CreateLead(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lead)
}

func (c *LeadController) ListLeads(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.LeadFilter{
		Status:       model.LeadStatus(q.Get("status")),
		PropertyType: model.PropertyType(q.Get("property_type")),
	}
	if id := queryInt(r, "campaign_id"); id > 0 {
		filter.CampaignID = &id
	}
	leads, pagination, err := c.LeadService.ListLeads(r.Context(), filter, queryInt(r, "page"), queryInt(r, "page_size"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       leads,
		"pagination": pagination,
	})
}

func (c *LeadController) GetLead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	lead, err := c.LeadService.GetLead(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (c *LeadController) UpdateLead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body service.LeadInput
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	lead, err := c.LeadService.UpdateLead(r.Context(), id, body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (c *LeadController) DeleteLead(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := c.LeadService.DeleteLead(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *LeadController) Conversation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conv, err := c.LeadService.Conversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// SendMessage is the operator's manual send.
func (c *LeadController) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}
	msg, err := c.ConversationService.SendManual(r.Context(), id, body.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
