package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/riskwatch_backend/config"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push subscription envelope.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// decodeRiskDetectionMessage reads the payload; a poisoned message is reported as an error so
// the caller can ack it without retrying.
func decodeRiskDetectionMessage(data []byte) (config.RiskDetectionMessage, error) {
	var m config.RiskDetectionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	if m.ProjectId <= 0 {
		return m, errors.New("project_id required")
	}
	return m, nil
}

// riskDetectionPubSubHandler is the push endpoint. 2xx acks; non-2xx makes Pub/Sub redeliver.
func (a *app) riskDetectionPubSubHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg PubSubMessage
		logger := a.logger

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "riskWorkflow.go", "riskDetectionPubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "riskWorkflow.go", "riskDetectionPubSubHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		m, err := decodeRiskDetectionMessage(msg.Message.Data)
		if err != nil {
			config.LogError(logger, "riskWorkflow.go", "riskDetectionPubSubHandler", "invalid risk detection message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}

		if _, err := a.worker.ProcessRiskDetectionMessage(c.Request.Context(), m, msg.Message.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "riskDetectionPubSubHandler",
				"project_id":     m.ProjectId,
				"record_id":      m.ID,
				"message_id":     msg.Message.ID,
				"correlation_id": m.CorrelationId,
			}).Error("risk detection failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RunRiskDetectionWorkflow pulls from the risk detection subscription until ctx is done.
// Used where no push endpoint is reachable.
func RunRiskDetectionWorkflow(ctx context.Context, worker riskMessageProcessor) error {
	logger := config.GetLogger()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(ctx, client, config.RiskDetectionTopic())
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(ctx, client, config.RiskDetectionSubscription(), topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = config.RiskSweepConcurrency()

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m, err := decodeRiskDetectionMessage(msg.Data)
		if err != nil {
			config.LogError(logger, "riskWorkflow.go", "RunRiskDetectionWorkflow", "invalid risk detection message", string(msg.Data), err)
			msg.Ack()
			return
		}
		if _, err := worker.ProcessRiskDetectionMessage(ctx, m, msg.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"field":      "RunRiskDetectionWorkflow",
				"project_id": m.ProjectId,
				"record_id":  m.ID,
				"message_id": msg.ID,
			}).Error("risk detection failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "riskWorkflow.go", "RunRiskDetectionWorkflow", "Failed to receive messages", nil, err)
		}
	}()
	return nil
}
