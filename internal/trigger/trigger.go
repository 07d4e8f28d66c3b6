// Package trigger notifies downstream stages that a raw capture is ready.
// Triggers are fire-and-forget: one attempt, no waiting on the stage, no
// rollback of what was already stored when the notification fails.
package trigger

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/kafka"
)

// Stage is a downstream consumer of raw captures.
type Stage string

const (
	StageSandbox Stage = "sandbox"
	StageSocrata Stage = "socrata"
)

// Event is the payload handed to a downstream stage.
type Event struct {
	Feed   feed.Descriptor `json:"feed"`
	Bucket string          `json:"bucket"`
	Key    string          `json:"key"`
}

// Trigger fires a stage for one event.
type Trigger interface {
	Fire(ctx context.Context, stage Stage, ev Event) error
	Close() error
}

// New builds the trigger selected by cfg.Trigger.Mode.
func New(ctx context.Context, cfg *config.Config) (Trigger, error) {
	switch cfg.Trigger.Mode {
	case config.TriggerKafka:
		return NewKafkaTrigger(map[Stage]Publisher{
			StageSandbox: kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SandboxTrigger, kafka.WithMaxAttempts(1)),
			StageSocrata: kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SocrataTrigger, kafka.WithMaxAttempts(1)),
		}), nil
	case config.TriggerLambda:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Storage.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		return NewLambdaTrigger(lambda.NewFromConfig(awsCfg), map[Stage]string{
			StageSandbox: cfg.Trigger.SandboxTarget,
			StageSocrata: cfg.Trigger.SocrataTarget,
		}), nil
	case config.TriggerNone:
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger mode %q", cfg.Trigger.Mode)
	}
}

// Nop logs and drops every event.
type Nop struct{}

func (Nop) Fire(_ context.Context, stage Stage, ev Event) error {
	slog.Debug("trigger disabled, dropping event", "stage", stage, "feed", ev.Feed.FeedName, "key", ev.Key)
	return nil
}

func (Nop) Close() error { return nil }
