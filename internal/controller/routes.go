package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Controllers struct {
	Campaigns     *CampaignController
	Leads         *LeadController
	Conversations *ConversationController
	Appointments  *AppointmentController
	Simulation    *SimulationController
	Webhook       http.Handler
}

func NewRouter(c Controllers) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", c.Campaigns.CreateCampaign)
		r.Get("/", c.Campaigns.ListCampaigns)
		r.Get("/{id}", c.Campaigns.GetCampaign)
		r.Put("/{id}", c.Campaigns.UpdateCampaign)
		r.Post("/{id}/leads", c.Campaigns.AssignLeads)
		r.Post("/{id}/execute", c.Campaigns.Execute)
		r.Get("/{id}/status", c.Campaigns.Status)
		r.Post("/{id}/{action:start|pause|stop|complete}", c.Campaigns.Lifecycle)
	})

	r.Route("/leads", func(r chi.Router) {
		r.Post("/", c.Leads.CreateLead)
		r.Get("/", c.Leads.ListLeads)
		r.Get("/{id}", c.Leads.GetLead)
		r.Put("/{id}", c.Leads.UpdateLead)
		r.Delete("/{id}", c.Leads.DeleteLead)
		r.Get("/{id}/conversation", c.Leads.Conversation)
		r.Post("/{id}/messages", c.Leads.SendMessage)
	})

	r.Get("/conversations/{id}", c.Conversations.GetConversation)
	r.Post("/appointments/{id}/complete", c.Appointments.Complete)
	r.Post("/simulate", c.Simulation.Simulate)
	if c.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/provider", c.Webhook)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
