package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"

	apperrors "github.com/Adithya-Monish-Kumar-K/wzdx-sandbox/pkg/errors"
)

// LambdaAPI is the subset of *lambda.Client the trigger uses.
type LambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaTrigger invokes one function per stage asynchronously.
type LambdaTrigger struct {
	client  LambdaAPI
	targets map[Stage]string
}

func NewLambdaTrigger(client LambdaAPI, targets map[Stage]string) *LambdaTrigger {
	return &LambdaTrigger{client: client, targets: targets}
}

func (t *LambdaTrigger) Fire(ctx context.Context, stage Stage, ev Event) error {
	fn := t.targets[stage]
	if fn == "" {
		return fmt.Errorf("%w: no function for stage %s", apperrors.ErrTriggerFailed, stage)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w: encoding event: %w", apperrors.ErrTriggerFailed, err)
	}
	out, err := t.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(fn),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	}, func(o *lambda.Options) {
		o.RetryMaxAttempts = 1
	})
	if err != nil {
		return fmt.Errorf("%w: invoking %s: %w", apperrors.ErrTriggerFailed, fn, err)
	}
	if out.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: %s answered %d", apperrors.ErrTriggerFailed, fn, out.StatusCode)
	}
	return nil
}

func (t *LambdaTrigger) Close() error { return nil }
