// Package automation runs the inbound-message bot: it resolves which flow a
// conversation is in, walks the flow's nodes and keeps a session while the
// flow waits for a reply.
package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"zapflow/internal/message"
	"zapflow/internal/metrics"
	"zapflow/internal/models"
	"zapflow/internal/store"
	"zapflow/internal/whatsapp"
)

type Repository interface {
	ActiveAutomations(ctx context.Context, tenantID string) ([]models.Automation, error)
	GetSession(ctx context.Context, tenantID, phone string) (*models.BotSession, error)
	UpsertSession(ctx context.Context, sess *models.BotSession) error
	DeleteSession(ctx context.Context, tenantID, phone string) error
}

type Gateway interface {
	SendText(ctx context.Context, instance, phone, text string, opts whatsapp.SendOptions) (string, error)
	SendMedia(ctx context.Context, instance, phone, mediaType, url, caption string, opts whatsapp.SendOptions) (string, error)
}

// Inbound is one text message received from a contact.
type Inbound struct {
	TenantID string
	Instance string
	Phone    string
	Text     string
}

type Engine struct {
	repo    Repository
	gateway Gateway
	sleep   func(ctx context.Context, d time.Duration) error
	pause   func() time.Duration
}

func NewEngine(repo Repository, gateway Gateway) *Engine {
	return &Engine{
		repo:    repo,
		gateway: gateway,
		sleep:   sleepCtx,
		pause:   nodePause,
	}
}

// nodePause is the 2 to 4 second gap between consecutive message nodes.
func nodePause() time.Duration {
	return 2*time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HandleInbound continues or starts a flow for the sender. Messages that
// match nothing are dropped without a reply.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) error {
	logger := log.With().Str("tenant_id", in.TenantID).Str("phone", in.Phone).Logger()

	session, err := e.repo.GetSession(ctx, in.TenantID, in.Phone)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load session: %w", err)
	}

	automations, err := e.repo.ActiveAutomations(ctx, in.TenantID)
	if err != nil {
		return fmt.Errorf("load automations: %w", err)
	}
	if len(automations) == 0 {
		return nil
	}

	res, ok := Resolve(automations, session, in.Text)
	if !ok {
		logger.Debug().Msg("No automation matched inbound message")
		return nil
	}
	logger = logger.With().Str("automation_id", res.Automation.ID).Bool("resumed", res.Resumed).Logger()

	if res.Finished {
		return e.repo.DeleteSession(ctx, in.TenantID, in.Phone)
	}

	// default edges only point forward, so the walk always ends
	order := res.Start
	for {
		node, ok := res.Graph.Node(order)
		if !ok {
			return e.repo.DeleteSession(ctx, in.TenantID, in.Phone)
		}

		switch node.Type {
		case models.NodeWait:
			return e.suspend(ctx, in, res.Automation.ID, order)

		case models.NodeMenu:
			e.send(ctx, in, &node.AutomationNode)
			return e.suspend(ctx, in, res.Automation.ID, order)

		case models.NodeMessage:
			e.send(ctx, in, &node.AutomationNode)
			if !res.Graph.IsLast(order) {
				if err := e.sleep(ctx, e.pause()); err != nil {
					return err
				}
			}

		default:
			// condition nodes are not evaluated
		}

		next, ok := res.Graph.Next(order)
		if !ok {
			logger.Debug().Msg("Automation flow completed")
			return e.repo.DeleteSession(ctx, in.TenantID, in.Phone)
		}
		order = next
	}
}

func (e *Engine) suspend(ctx context.Context, in Inbound, automationID string, order int) error {
	return e.repo.UpsertSession(ctx, &models.BotSession{
		TenantID:         in.TenantID,
		Phone:            in.Phone,
		AutomationID:     automationID,
		CurrentNodeIndex: order,
	})
}

// send delivers one node. Failures are logged and the flow goes on.
func (e *Engine) send(ctx context.Context, in Inbound, node *models.AutomationNode) {
	text := node.Content
	if node.Type == models.NodeMenu {
		text = message.Menu(node.Content, node.Options)
	}

	var err error
	if node.MediaURL != "" && node.MediaType != "" && node.MediaType != models.MediaNone {
		_, err = e.gateway.SendMedia(ctx, in.Instance, in.Phone, node.MediaType, node.MediaURL, text,
			whatsapp.SendOptions{Delay: 1200})
	} else {
		_, err = e.gateway.SendText(ctx, in.Instance, in.Phone, text,
			whatsapp.SendOptions{Delay: 1000, Presence: whatsapp.PresenceComposing})
	}
	if err != nil {
		metrics.BotMessages.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("phone", in.Phone).Str("node_id", node.ID).Msg("Bot send failed")
		return
	}
	metrics.BotMessages.WithLabelValues("sent").Inc()
}
