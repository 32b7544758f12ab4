package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/leadreach-backend/internal/errors"
	"github.com/unclebandit/leadreach-backend/internal/inbound"
	"github.com/unclebandit/leadreach-backend/internal/scheduler"
)

// CampaignJob asks a worker to run one execution pass.
type CampaignJob struct {
	CampaignID  int       `json:"campaign_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// EnqueueCampaign publishes an execution request.
func EnqueueCampaign(ctx context.Context, q Queue, campaignID int) error {
	body, err := json.Marshal(CampaignJob{CampaignID: campaignID, RequestedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return q.Publish(ctx, TopicCampaignExecutions, body)
}

// PublishEvent hands a verified provider callback to the workers.
func PublishEvent(ctx context.Context, q Queue, ev *inbound.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return q.Publish(ctx, TopicInboundEvents, body)
}

func StartCampaignExecutionSubscriber(ctx context.Context, q Queue, sched *scheduler.Scheduler) error {
	err := q.Subscribe(ctx, TopicCampaignExecutions, func(ctx context.Context, payload []byte) error {
		var job CampaignJob
		if err := json.Unmarshal(payload, &job); err != nil || job.CampaignID <= 0 {
			log.Println("⚠️ Invalid campaign job:", string(payload))
			return Permanent(fmt.Errorf("invalid campaign job"))
		}

		log.Println("🚀 Executing campaign", job.CampaignID)
		res, err := sched.Execute(ctx, job.CampaignID)
		if err != nil {
			if appErrors.IsNotFound(err) || isStateError(err) {
				log.Printf("⚠️ Campaign %d not executable: %v", job.CampaignID, err)
				return Permanent(err)
			}
			return err
		}
		log.Printf("✅ Campaign %d: selected=%d contacted=%d skipped=%d failed=%d",
			job.CampaignID, res.Selected, res.Contacted, res.Skipped, res.Failed)
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicCampaignExecutions, err)
	}
	return nil
}

func StartInboundEventSubscriber(ctx context.Context, q Queue, dispatcher *inbound.Dispatcher) error {
	err := q.Subscribe(ctx, TopicInboundEvents, func(ctx context.Context, payload []byte) error {
		var ev inbound.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Println("⚠️ Invalid inbound event:", err)
			return Permanent(err)
		}

		res, err := dispatcher.Handle(ctx, &ev)
		if err != nil {
			if appErrors.IsNotFound(err) || isStateError(err) {
				return Permanent(err)
			}
			return err
		}
		if res.Kind == inbound.EventMessage && !res.Unmatched && !res.Duplicate {
			log.Printf("📩 Lead %d replied, reply sent=%t", res.LeadID, res.Replied)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicInboundEvents, err)
	}
	return nil
}

func isStateError(err error) bool {
	var ist *appErrors.InvalidStateTransition
	return errors.As(err, &ist)
}
