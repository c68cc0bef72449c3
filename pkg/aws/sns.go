package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Message is one SNS notification. Attributes become string message attributes so that
// subscribers can filter on them.
type Message struct {
	Body       []byte
	Attributes map[string]string
}

// SNSPublisher publishes messages to a topic.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, msg Message) error
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSClient struct {
	client snsAPI
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

func (s *SNSClient) Publish(ctx context.Context, topicArn string, msg Message) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(msg.Body)),
	}
	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(v),
			}
		}
	}
	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
