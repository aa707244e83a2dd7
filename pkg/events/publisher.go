package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fieldbook/fieldbook-sync/pkg/config"
	"github.com/fieldbook/fieldbook-sync/pkg/logger"
)

const publishTimeout = 10 * time.Second

// RunSummary is the payload published after an integrity pipeline run.
type RunSummary struct {
	Job         string    `json:"job"`
	Mode        string    `json:"mode,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	ReportPath  string    `json:"report_path,omitempty"`
	Deletions   int       `json:"deletions"`
	ChecksRun   int       `json:"checks_run"`
	ChecksValid int       `json:"checks_valid"`
	Passed      bool      `json:"passed"`
}

// Publisher emits integrity run summaries to a Pub/Sub topic. A nil Publisher
// is valid and publishes nothing.
type Publisher struct {
	publisher *pubsub.Publisher
	client    *pubsub.Client
	logg      *logger.Logger
}

// NewPublisher creates a publisher bound to the configured run-report topic.
// Returns nil without error when no topic is configured.
func NewPublisher(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.RunReportTopic) == "" {
		return nil, nil
	}
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, fmt.Errorf("gcp project id is required when a run-report topic is set")
	}

	client, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	name := cfg.RunReportTopic
	if !strings.HasPrefix(name, "projects/") {
		name = fmt.Sprintf("projects/%s/topics/%s", gcp.ProjectID, name)
	}

	return &Publisher{
		publisher: client.Publisher(name),
		client:    client,
		logg:      logg,
	}, nil
}

// PublishRunSummary sends the summary, tolerating a missing topic.
func (p *Publisher) PublishRunSummary(ctx context.Context, summary RunSummary) error {
	if p == nil || p.publisher == nil {
		return nil
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := p.publisher.Publish(publishCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job": summary.Job,
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		if status.Code(err) == codes.NotFound {
			if p.logg != nil {
				p.logg.Warn(ctx, "run-report topic not found, summary dropped")
			}
			return nil
		}
		return fmt.Errorf("publish run summary: %w", err)
	}

	if p.logg != nil {
		logCtx := p.logg.WithField(ctx, "job", summary.Job)
		p.logg.Info(logCtx, "integrity run summary published")
	}
	return nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
