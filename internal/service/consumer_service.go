package service

import (
	"context"
	"encoding/json"
	"log"

	"ai-tutor-be/internal/dto"
	"ai-tutor-be/pkg/events"
	pktNats "ai-tutor-be/pkg/nats"
	"ai-tutor-be/pkg/rag/summary"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService runs the fire-and-forget side of the pipeline: session
// summary rollups after committed turns and async document summaries. It owns
// its error boundary, so rollup failures never touch a chat request.
type consumerService struct {
	pubSub  *gochannel.GoChannel
	rollup  *summary.Rollup
	natsPub *pktNats.Publisher // nil when NATS is unavailable
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	rollup *summary.Rollup,
	natsPub *pktNats.Publisher,
) IConsumerService {
	return &consumerService{
		pubSub:  pubSub,
		rollup:  rollup,
		natsPub: natsPub,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	turns, err := cs.pubSub.Subscribe(ctx, TopicTurnCommitted)
	if err != nil {
		return err
	}
	summaries, err := cs.pubSub.Subscribe(ctx, TopicDocumentSummaryRequested)
	if err != nil {
		return err
	}

	go func() {
		for msg := range turns {
			cs.processTurnCommitted(ctx, msg)
		}
	}()
	go func() {
		for msg := range summaries {
			cs.processDocumentSummary(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processTurnCommitted(ctx context.Context, msg *message.Message) {
	var payload dto.PublishTurnCommittedMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("[ERROR] Failed to unmarshal turn-committed message: %v", err)
		msg.Ack() // malformed messages would retry forever
		return
	}

	conversationId, err := uuid.Parse(payload.ConversationId)
	if err != nil {
		log.Printf("[ERROR] Invalid conversation id in turn-committed message: %s", payload.ConversationId)
		msg.Ack()
		return
	}

	updated, err := cs.rollup.UpdateIfNeeded(ctx, conversationId)
	if err != nil {
		log.Printf("[ERROR] Session summary rollup failed for %s: %v", conversationId, err)
		msg.Ack() // the next boundary turn retriggers naturally
		return
	}

	if updated {
		cs.publishSummaryEvent(ctx, conversationId)
	}
	msg.Ack()
}

func (cs *consumerService) processDocumentSummary(ctx context.Context, msg *message.Message) {
	var payload dto.PublishDocumentSummaryMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		log.Printf("[ERROR] Failed to unmarshal document-summary message: %v", err)
		msg.Ack()
		return
	}

	userId, err1 := uuid.Parse(payload.UserId)
	documentId, err2 := uuid.Parse(payload.DocumentId)
	if err1 != nil || err2 != nil {
		log.Printf("[ERROR] Invalid ids in document-summary message: %s / %s", payload.UserId, payload.DocumentId)
		msg.Ack()
		return
	}

	log.Printf("[INFO] Building document summary for %s", documentId)
	if err := cs.rollup.SummarizeDocument(ctx, userId, documentId); err != nil {
		log.Printf("[ERROR] Document summary failed for %s: %v", documentId, err)
		msg.Nack() // transient LLM or DB failure, retry
		return
	}

	if cs.natsPub != nil {
		evt := events.NewDocumentSummaryReady(userId, documentId)
		if err := cs.natsPub.Publish(ctx, evt); err != nil {
			log.Printf("[WARN] Failed to publish document-summary event: %v", err)
		}
	}
	msg.Ack()
}

func (cs *consumerService) publishSummaryEvent(ctx context.Context, conversationId uuid.UUID) {
	if cs.natsPub == nil {
		return
	}
	evt := events.NewSessionSummaryUpdated(conversationId)
	if err := cs.natsPub.Publish(ctx, evt); err != nil {
		log.Printf("[WARN] Failed to publish session-summary event: %v", err)
	}
}
