// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/unclebandit/leadreach-backend/internal/booking"
	"github.com/unclebandit/leadreach-backend/internal/channel"
	"github.com/unclebandit/leadreach-backend/internal/compliance"
	"github.com/unclebandit/leadreach-backend/internal/config"
	"github.com/unclebandit/leadreach-backend/internal/controller"
	"github.com/unclebandit/leadreach-backend/internal/db"
	"github.com/unclebandit/leadreach-backend/internal/handler"
	"github.com/unclebandit/leadreach-backend/internal/inbound"
	"github.com/unclebandit/leadreach-backend/internal/llm"
	"github.com/unclebandit/leadreach-backend/internal/qualification"
	"github.com/unclebandit/leadreach-backend/internal/queue"
	"github.com/unclebandit/leadreach-backend/internal/repository"
	"github.com/unclebandit/leadreach-backend/internal/repository/memory"
	"github.com/unclebandit/leadreach-backend/internal/scheduler"
	"github.com/unclebandit/leadreach-backend/internal/service"
)

// App holds the wired components shared by the server and the worker.
type App struct {
	Config      *config.Config
	Repos       repository.Repositories
	Queue       queue.Queue
	Engine      *qualification.Engine
	Router      *channel.Router
	Gate        *compliance.Gate
	Coordinator *booking.Coordinator
	Scheduler   *scheduler.Scheduler
	Dispatcher  *inbound.Dispatcher

	Campaigns     *service.CampaignService
	Leads         *service.LeadService
	Conversations *service.ConversationService
	Simulation    *service.SimulationService
}

// Build opens storage and the queue and wires every component from cfg.
// Without a DSN the in-memory store is used, without AMQP_URL the
// in-process queue.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if dsn := cfg.DSN(); dsn != "" {
		if err := db.Init(ctx, dsn); err != nil {
			return nil, err
		}
		a.Repos = repository.NewPostgres(db.DB)
	} else {
		log.Println("⚠️ No database configured, using the in-memory store")
		a.Repos = memory.New()
	}

	if cfg.AMQPURL != "" {
		q, err := queue.NewAMQPQueue(cfg.AMQPURL)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewInMemoryQueue()
	}

	flows, err := qualification.DefaultFlows()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load flows: %w", err)
	}
	var extractor qualification.Extractor
	var generator qualification.Generator
	if cfg.OpenAIAPIKey != "" {
		client := llm.NewClient(llm.Config{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
		})
		extractor, generator = client, client
	} else {
		log.Println("⚠️ OPENAI_API_KEY not set, using keyword extraction and templates")
	}
	a.Engine = qualification.NewEngine(flows, extractor, generator, qualification.Settings{
		MaxUnparseable:     cfg.MaxUnparseable,
		ExtractionAttempts: cfg.ExtractionAttempts,
		FutureInterestDays: cfg.FutureInterestDays,
	})

	httpClient := &http.Client{Timeout: cfg.TransportTimeout}
	var sms, email channel.Transport
	if cfg.TelnyxAPIKey != "" {
		sms = channel.NewTelnyxSMS(cfg.TelnyxAPIKey, cfg.TelnyxFromNumber, cfg.TelnyxBaseURL, httpClient)
	}
	if cfg.EmailAPIKey != "" {
		email = channel.NewHTTPEmail(cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailBaseURL, httpClient)
	}
	if sms == nil && email == nil {
		log.Println("⚠️ No transport configured, every send will fail")
	}
	a.Router = channel.NewRouter(sms, email, a.Repos.Conversations, channel.RetryPolicy{
		MaxAttempts:     cfg.SendAttempts,
		InitialInterval: cfg.SendBackoff,
		MaxInterval:     cfg.SendMaxBackoff,
		MaxElapsed:      cfg.SendMaxElapsed,
		Timeout:         cfg.TransportTimeout,
	})
	a.Gate = compliance.NewGate()

	bookingOpts := a.bookingOptions()
	calendar := booking.NewOfficeHoursCalendar(cfg.MeetingDuration, cfg.VideoLinkBase)
	a.Coordinator = booking.NewCoordinator(calendar, a.Engine, a.Repos, bookingOpts)

	a.Scheduler = scheduler.New(a.Repos, a.Gate, a.Engine, a.Coordinator, a.Router, scheduler.Options{
		Workers: cfg.SchedulerWorkers,
		LockTTL: cfg.LeaseTTL,
	})

	defaults := cfg.CampaignDefaults()
	a.Dispatcher = inbound.NewDispatcher(a.Repos, a.Engine, a.Coordinator, a.Router, a.Gate, defaults, cfg.LeaseTTL)

	a.Campaigns = &service.CampaignService{
		CampaignRepo: a.Repos.Campaigns,
		LeadRepo:     a.Repos.Leads,
		Scheduler:    a.Scheduler,
		Queue:        a.Queue,
		Defaults:     defaults,
	}
	a.Leads = &service.LeadService{
		LeadRepo:         a.Repos.Leads,
		ConversationRepo: a.Repos.Conversations,
	}
	a.Conversations = &service.ConversationService{
		LeadRepo:         a.Repos.Leads,
		CampaignRepo:     a.Repos.Campaigns,
		ConversationRepo: a.Repos.Conversations,
		Locks:            a.Repos.Locks,
		Router:           a.Router,
		Gate:             a.Gate,
		Defaults:         defaults,
		LockTTL:          cfg.LeaseTTL,
	}
	a.Simulation = &service.SimulationService{
		Engine:          a.Engine,
		Booking:         bookingOpts,
		MeetingDuration: cfg.MeetingDuration,
		VideoLinkBase:   cfg.VideoLinkBase,
		Defaults:        defaults,
	}
	return a, nil
}

func (a *App) bookingOptions() booking.Options {
	opts := booking.DefaultOptions()
	opts.Tolerance = a.Config.BookingTolerance
	opts.Slots = a.Config.BookingSlots
	opts.Days = a.Config.BookingDays
	opts.NoShowGrace = a.Config.NoShowGrace
	opts.LeaseTTL = a.Config.LeaseTTL
	opts.DefaultTimezone = a.Config.DefaultTimezone
	return opts
}

// StartSubscribers attaches the campaign execution and inbound event
// consumers to the queue.
func (a *App) StartSubscribers(ctx context.Context) error {
	if err := queue.StartCampaignExecutionSubscriber(ctx, a.Queue, a.Scheduler); err != nil {
		return err
	}
	return queue.StartInboundEventSubscriber(ctx, a.Queue, a.Dispatcher)
}

// Timer builds the cron timer that enqueues active campaigns and sweeps
// no-shows.
func (a *App) Timer() *scheduler.Timer {
	return scheduler.NewTimer(a.Repos.Campaigns, func(ctx context.Context, campaignID int) error {
		return queue.EnqueueCampaign(ctx, a.Queue, campaignID)
	}, a.Coordinator.SweepNoShows)
}

// HTTPHandler returns the API router.
func (a *App) HTTPHandler() http.Handler {
	webhook := handler.NewWebhookHandler(a.Queue, a.Config.WebhookSecret, a.Config.WebhookTolerance)
	if err := webhook.Validate(); err != nil {
		log.Printf("⚠️ Webhook disabled: %v", err)
	}
	return controller.NewRouter(controller.Controllers{
		Campaigns:     &controller.CampaignController{CampaignService: a.Campaigns},
		Leads:         &controller.LeadController{LeadService: a.Leads, ConversationService: a.Conversations},
		Conversations: &controller.ConversationController{ConversationService: a.Conversations},
		Appointments:  &controller.AppointmentController{Booking: a.Coordinator},
		Simulation:    &controller.SimulationController{SimulationService: a.Simulation},
		Webhook:       webhook,
	})
}

// Close releases the queue connection and the database handle.
func (a *App) Close() {
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			log.Printf("⚠️ Closing queue: %v", err)
		}
	}
	db.Close()
}
