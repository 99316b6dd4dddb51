package publish

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/PratikDhanave/record-ingestion-service/internal/models"
)

// PubSubPublisher sends events to a Cloud Pub/Sub topic.
type PubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubPublisher accepts either a bare topic ID or a full
// "projects/{project}/topics/{topic}" name.
func NewPubSubPublisher(ctx context.Context, projectID, topic string) (*PubSubPublisher, error) {
	project, topicID, err := splitTopic(projectID, topic)
	if err != nil {
		return nil, err
	}
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, err
	}
	return &PubSubPublisher{client: client, topic: client.Topic(topicID)}, nil
}

func splitTopic(projectID, topic string) (string, string, error) {
	if parts := strings.Split(topic, "/"); len(parts) == 4 && parts[0] == "projects" && parts[2] == "topics" {
		return parts[1], parts[3], nil
	}
	if projectID == "" || topic == "" || strings.Contains(topic, "/") {
		return "", "", errors.New("pubsub: need GCP_PROJECT_ID and a topic ID, or a full topic name")
	}
	return projectID, topic, nil
}

// Publish blocks until the broker acknowledges the message or ctx ends.
func (p *PubSubPublisher) Publish(ctx context.Context, ev models.AcceptanceEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	res := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: Attributes(ev),
	})
	return res.Get(ctx)
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}

var _ Publisher = (*PubSubPublisher)(nil)
