// Package events publishes committed orders to an SNS topic so downstream
// consumers (settlement, notifications) can react without polling the
// relational store.
//
// Every message carries the attributes eventType, orderType and portfolioId
// for SNS subscription filtering.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/stock-portfolio/internal/config"
	"github.com/stock-portfolio/internal/logging"
	"github.com/stock-portfolio/internal/models"
	"github.com/stock-portfolio/internal/retry"
)

// EventTypeOrderPlaced is the eventType attribute of order messages
const EventTypeOrderPlaced = "order.placed"

// ErrPublisherClosed is returned by Publish after Close
var ErrPublisherClosed = errors.New("event publisher is closed")

// SNSPublisher is the subset of the SNS client the publisher uses
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes order events to one SNS topic
type Publisher struct {
	client   SNSPublisher
	topicARN string
	retry    *retry.RetryConfig

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher for topicARN. A nil retryCfg uses three
// attempts starting at 100ms.
func NewPublisher(client SNSPublisher, topicARN string, retryCfg *retry.RetryConfig) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if topicARN == "" {
		return nil, errors.New("topic ARN is required")
	}
	if retryCfg == nil {
		retryCfg = &retry.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		}
	}
	if retryCfg.ShouldRetry == nil {
		retryCfg.ShouldRetry = isRetryableError
	}

	return &Publisher{
		client:   client,
		topicARN: topicARN,
		retry:    retryCfg,
	}, nil
}

// NewSNSClient builds an SNS client from the default AWS credential chain.
// cfg.SNSEndpoint overrides the service endpoint.
func NewSNSClient(ctx context.Context, cfg config.EventsConfig) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.SNSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SNSEndpoint)
		}
	}), nil
}

// Publish sends ev to the topic, retrying transient failures
func (p *Publisher) Publish(ctx context.Context, ev *models.OrderEvent) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPublisherClosed
	}

	input, err := p.buildInput(ev)
	if err != nil {
		return err
	}

	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"orderId":     ev.OrderID,
		"portfolioId": ev.PortfolioID,
	})

	err = retry.Do(ctx, p.retry, func(ctx context.Context, attempt int) error {
		out, err := p.client.Publish(ctx, input)
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"messageId": aws.ToString(out.MessageId),
			"attempt":   attempt,
		}).Debug("Published order event")
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	return nil
}

func (p *Publisher) buildInput(ev *models.OrderEvent) (*sns.PublishInput, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order event: %w", err)
	}

	return &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventTypeOrderPlaced),
			},
			"orderType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.Type),
			},
			"portfolioId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.FormatInt(ev.PortfolioID, 10)),
			},
		},
	}, nil
}

// Close stops further publishing
func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// isRetryableError treats throttling, server faults and unknown errors as
// transient and rejects context and client-fault errors.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var invalidParam *snstypes.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *snstypes.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *snstypes.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}
	var throttled *snstypes.ThrottledException
	if errors.As(err, &throttled) {
		return true
	}

	// Other API errors are retried unless the service blames the request
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return true
		}
		return apiErr.ErrorFault() != smithy.FaultClient
	}

	return true
}
