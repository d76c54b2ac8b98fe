package workflow

import (
	"context"
	"strconv"

	"cloud.google.com/go/pubsub"
	"github.com/mmdatafocus/retail_dashboard/config"
	"github.com/sirupsen/logrus"
)

// PubSubNotifier publishes each finished refresh summary to a topic so downstream
// consumers (alerting, dashboards warming their own caches) can react.
type PubSubNotifier struct {
	Client *pubsub.Client
	Topic  string
	Logger *logrus.Logger
}

func NewPubSubNotifier(client *pubsub.Client, topic string, logger *logrus.Logger) *PubSubNotifier {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &PubSubNotifier{Client: client, Topic: topic, Logger: logger}
}

func (n *PubSubNotifier) NotifyRefresh(ctx context.Context, summary *RefreshSummary) error {
	if n == nil || n.Client == nil || n.Topic == "" || summary == nil {
		return nil
	}
	attrs := map[string]string{
		"event":  "snapshot.refresh.finished",
		"runId":  summary.RunID,
		"mode":   string(summary.Mode),
		"failed": strconv.Itoa(summary.Failed),
	}
	if summary.Trigger != "" {
		attrs["trigger"] = summary.Trigger
	}
	msgID, err := config.PublishJSON(ctx, n.Client, n.Topic, summary, attrs)
	if err != nil {
		return err
	}
	n.Logger.WithFields(logrus.Fields{
		"module":    "workflow",
		"runId":     summary.RunID,
		"topic":     n.Topic,
		"messageId": msgID,
	}).Debug("refresh summary published")
	return nil
}
