package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	return &sns.PublishOutput{}, f.err
}

type fakeSecrets struct {
	calls int
	value *string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestSNSClient_Publish(t *testing.T) {
	fake := &fakeSNS{}
	c := &SNSClient{client: fake}

	msg := Message{Body: []byte(`{"a":1}`), Attributes: map[string]string{"event_type": "checkout.test"}}
	require.NoError(t, c.Publish(context.Background(), "arn:topic", msg))
	assert.Equal(t, "arn:topic", *fake.input.TopicArn)
	assert.Equal(t, `{"a":1}`, *fake.input.Message)
	require.Contains(t, fake.input.MessageAttributes, "event_type")
	assert.Equal(t, "String", *fake.input.MessageAttributes["event_type"].DataType)
	assert.Equal(t, "checkout.test", *fake.input.MessageAttributes["event_type"].StringValue)

	assert.Error(t, c.Publish(context.Background(), "", Message{}))

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, c.Publish(context.Background(), "arn:topic", Message{}), "throttled")
}

func TestSecretsClient_CachesUntilTTL(t *testing.T) {
	v := "sk_test_123"
	fake := &fakeSecrets{value: &v}
	c := newSecretsClient(fake, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		got, err := c.GetSecret(context.Background(), "stripe")
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	assert.Equal(t, 1, fake.calls)

	now = now.Add(2 * time.Minute)
	_, err := c.GetSecret(context.Background(), "stripe")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
}

func TestSecretsClient_Field(t *testing.T) {
	v := `{"STRIPE_SECRET_KEY":"sk_test_456"}`
	c := newSecretsClient(&fakeSecrets{value: &v}, time.Minute)

	got, err := c.GetSecretField(context.Background(), "storefront", "STRIPE_SECRET_KEY")
	require.NoError(t, err)
	assert.Equal(t, "sk_test_456", got)

	_, err = c.GetSecretField(context.Background(), "storefront", "MISSING")
	assert.ErrorContains(t, err, "no field")

	raw, err := c.GetSecretField(context.Background(), "storefront", "")
	require.NoError(t, err)
	assert.Equal(t, v, raw)
}

func TestSecretsClient_NoString(t *testing.T) {
	c := newSecretsClient(&fakeSecrets{}, time.Minute)
	_, err := c.GetSecret(context.Background(), "stripe")
	assert.ErrorContains(t, err, "no string value")
}

func TestMetricsClient_DisabledDropsPoints(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := newMetricsClient(fake, MetricsOptions{})
	require.NoError(t, m.RecordCount(context.Background(), MetricCheckoutFailed, nil))
	assert.Empty(t, fake.inputs)
	assert.False(t, m.IsEnabled())
}

func TestMetricsClient_MergesDimensions(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := newMetricsClient(fake, MetricsOptions{
		Enabled:    true,
		Dimensions: map[string]string{"Profile": "p1", "Kind": "default"},
	})

	require.NoError(t, m.RecordLatency(context.Background(), MetricOrderWriteLatency, 1500*time.Millisecond, map[string]string{"Kind": "network"}))
	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "Storefront", *in.Namespace)

	datum := in.MetricData[0]
	assert.Equal(t, MetricOrderWriteLatency, *datum.MetricName)
	assert.Equal(t, 1500.0, *datum.Value)
	require.Len(t, datum.Dimensions, 2)
	assert.Equal(t, "Kind", *datum.Dimensions[0].Name)
	assert.Equal(t, "network", *datum.Dimensions[0].Value)
	assert.Equal(t, "Profile", *datum.Dimensions[1].Name)
}

func TestLoadAWSConfig_LocalStack(t *testing.T) {
	ctx := context.Background()
	cfg, err := LoadAWSConfig(ctx, Settings{
		Region:          "eu-west-1",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)

	creds, err := cfg.Credentials.Retrieve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	ep, err := cfg.EndpointResolverWithOptions.ResolveEndpoint("sns", "eu-west-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)
	assert.Equal(t, "eu-west-1", ep.SigningRegion)
}
