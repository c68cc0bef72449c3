// Package storefront wires the checkout core into one explicit context object, replacing
// process-wide singletons.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yashrajoria/storefront-core/authgate"
	"github.com/yashrajoria/storefront-core/cart"
	"github.com/yashrajoria/storefront-core/checkout"
	"github.com/yashrajoria/storefront-core/clients"
	"github.com/yashrajoria/storefront-core/common/logger"
	"github.com/yashrajoria/storefront-core/config"
	"github.com/yashrajoria/storefront-core/payment"
	pkgaws "github.com/yashrajoria/storefront-core/pkg/aws"
	"github.com/yashrajoria/storefront-core/session"
)

var ErrNotInitialized = errors.New("storefront not initialized")

type Option func(*Storefront)

func WithLogger(l *zap.Logger) Option {
	return func(s *Storefront) { s.logger = logger.OrNop(l) }
}

// WithRedis supplies an existing client; it is used for sessions and the cart cache.
func WithRedis(client *redis.Client) Option {
	return func(s *Storefront) { s.redis = client }
}

func WithSessionBackend(b session.Backend) Option {
	return func(s *Storefront) { s.sessionBackend = b }
}

func WithPaymentGateway(g payment.Gateway) Option {
	return func(s *Storefront) { s.paymentGateway = g }
}

func WithAWSConfig(cfg sdkaws.Config) Option {
	return func(s *Storefront) { s.awsCfg = &cfg }
}

// Storefront owns the session store, cart synchronizer, auth gate and payment gateway for one
// client profile.
type Storefront struct {
	cfg    *config.Config
	logger *zap.Logger

	redis          *redis.Client
	ownsRedis      bool
	awsCfg         *sdkaws.Config
	sessionBackend session.Backend
	paymentGateway payment.Gateway
	reconciler     checkout.Reconciler
	metrics        *pkgaws.MetricsClient

	sessions *session.Store
	gateway  *clients.GatewayClient
	cart     *cart.Synchronizer
	gate     *authgate.Gate

	mu          sync.Mutex
	initialized bool
	checkout    *checkout.Orchestrator
	methods     map[string]payment.Method
}

func New(cfg *config.Config, opts ...Option) (*Storefront, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Storefront{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init builds every component, restores the cached cart and runs the first refresh. A failed
// first refresh is logged; the restored cart stays readable and marked stale.
func (s *Storefront) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	if s.awsCfg == nil && s.cfg.UsesAWS() {
		awsCfg, err := pkgaws.LoadAWSConfig(ctx, pkgaws.Settings{
			Region:          s.cfg.AWSRegion,
			Endpoint:        s.cfg.AWSEndpoint,
			AccessKeyID:     s.cfg.AWSAccessKeyID,
			SecretAccessKey: s.cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		s.awsCfg = &awsCfg
	}
	if s.redis == nil && s.cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, s.cfg.RedisURL)
		if err != nil {
			return err
		}
		s.redis, s.ownsRedis = client, true
	}
	if s.cfg.CloudWatchEnabled && s.awsCfg != nil {
		s.metrics = pkgaws.NewMetricsClient(*s.awsCfg, pkgaws.MetricsOptions{
			Namespace:  s.cfg.CloudWatchNamespace,
			Enabled:    true,
			Dimensions: map[string]string{"Profile": s.cfg.ProfileID},
		})
	}

	backend, err := s.buildSessionBackend()
	if err != nil {
		return err
	}
	s.sessions = session.NewStore(backend, s.cfg.ProfileID, s.logger,
		session.WithExpiryHook(func(ctx context.Context) { s.count(ctx, pkgaws.MetricSessionTokenExpiry) }),
	)

	s.gateway = clients.NewGatewayClient(s.cfg.BackendURL, s.sessions, clients.Options{
		Timeout:         s.cfg.RequestTimeout,
		RateLimit:       rate.Limit(s.cfg.GatewayRateLimit),
		Burst:           s.cfg.GatewayBurst,
		BreakerFailures: s.cfg.GatewayBreakerFailures,
	}, s.logger)

	cartOpts := []cart.Option{
		cart.WithPolling(s.cfg.RefreshAttempts, s.cfg.RefreshInterval),
		cart.WithStaleHook(func(ctx context.Context) { s.count(ctx, pkgaws.MetricCartRefreshStale) }),
	}
	if s.redis != nil {
		cartOpts = append(cartOpts, cart.WithCache(cart.NewRedisCache(s.redis, s.cfg.ProfileID, s.cfg.CartCacheTTL)))
	}
	s.cart = cart.NewSynchronizer(s.gateway, s.logger, cartOpts...)

	s.gate = authgate.NewGate(s.gateway, s.cfg.AuthGraceDelay, s.logger, authgate.WithCredential(s.sessions))

	if err := s.buildPayments(ctx); err != nil {
		return err
	}
	if s.cfg.ReconciliationTopicARN != "" && s.awsCfg != nil {
		s.reconciler = checkout.NewSNSReconciler(pkgaws.NewSNSClient(*s.awsCfg), s.cfg.ReconciliationTopicARN, s.logger)
	}

	if err := s.cart.Restore(ctx); err != nil {
		s.logger.Warn("Failed to restore cached cart", zap.Error(err))
	}
	if err := s.cart.Refresh(ctx); err != nil {
		s.logger.Warn("Initial cart refresh failed", zap.Error(err))
	}

	s.initialized = true
	s.logger.Info("Storefront initialized",
		zap.String("profile", s.cfg.ProfileID),
		zap.String("session_backend", s.cfg.SessionBackend),
		zap.Bool("payments", s.paymentGateway != nil),
	)
	return nil
}

// Dispose releases owned connections. The Storefront can be initialized again afterwards.
func (s *Storefront) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkout != nil {
		s.checkout.Detach()
		s.checkout = nil
	}
	s.initialized = false
	if s.ownsRedis && s.redis != nil {
		err := s.redis.Close()
		s.redis, s.ownsRedis = nil, false
		return err
	}
	return nil
}

func (s *Storefront) Sessions() *session.Store { return s.sessions }

func (s *Storefront) Gateway() *clients.GatewayClient { return s.gateway }

func (s *Storefront) Cart() *cart.Synchronizer { return s.cart }

func (s *Storefront) Gate() *authgate.Gate { return s.gate }

// Metrics returns the CloudWatch client, or nil when metrics are disabled.
func (s *Storefront) Metrics() *pkgaws.MetricsClient { return s.metrics }

// Payments returns the payment gateway, or nil when card payments are not configured.
func (s *Storefront) Payments() payment.Gateway { return s.paymentGateway }

// NewCheckout starts a fresh checkout attempt.
func (s *Storefront) NewCheckout() (*checkout.Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, ErrNotInitialized
	}

	opts := []checkout.Option{}
	if s.paymentGateway != nil {
		opts = append(opts, checkout.WithPayments(payment.NewAdapter(s.paymentGateway, s.cfg.StripeReturnURL, s.logger)))
	}
	if s.reconciler != nil {
		opts = append(opts, checkout.WithReconciler(s.reconciler))
	}
	if s.metrics != nil {
		opts = append(opts, checkout.WithMetrics(s.metrics))
	}
	opts = append(opts, checkout.WithMethodLookup(s.method))
	if s.checkout != nil {
		s.checkout.Detach()
	}
	s.checkout = checkout.NewOrchestrator(s.gateway, s.cart, s.sessions, s.logger, opts...)
	return s.checkout, nil
}

// Checkout returns the current checkout, starting one if none exists. A completed checkout is
// kept so its order can still be shown.
func (s *Storefront) Checkout() (*checkout.Orchestrator, error) {
	s.mu.Lock()
	current := s.checkout
	s.mu.Unlock()
	if current != nil {
		return current, nil
	}
	return s.NewCheckout()
}

// OpenCheckout returns a checkout that can take a new order: the current one, or a fresh one
// when the previous order completed.
func (s *Storefront) OpenCheckout() (*checkout.Orchestrator, error) {
	o, err := s.Checkout()
	if err != nil {
		return nil, err
	}
	if o.View().State == checkout.StateCompleted {
		return s.NewCheckout()
	}
	return o, nil
}

// Logout drops the session token, the cached cart and the current checkout.
func (s *Storefront) Logout(ctx context.Context) error {
	if !s.isInitialized() {
		return ErrNotInitialized
	}
	s.mu.Lock()
	if s.checkout != nil {
		s.checkout.Detach()
		s.checkout = nil
	}
	s.mu.Unlock()
	err := s.sessions.Clear(ctx)
	s.cart.Clear(ctx)
	return err
}

// ResolveMethods maps the payment method ids offered at checkout to their kinds. The result is
// kept so checkout submits look methods up instead of resolving them again.
func (s *Storefront) ResolveMethods(ids []string) []payment.Method {
	methods := payment.ResolveMethods(ids)
	if s.paymentGateway == nil {
		// Without a configured processor card methods cannot be confirmed here.
		out := methods[:0]
		for _, m := range methods {
			if !m.RequiresGateway() {
				out = append(out, m)
			}
		}
		methods = out
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.methods == nil {
		s.methods = make(map[string]payment.Method, len(methods))
	}
	for _, m := range methods {
		s.methods[m.ID] = m
	}
	return methods
}

func (s *Storefront) method(id string) (payment.Method, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[id]
	return m, ok
}

func (s *Storefront) isInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *Storefront) buildSessionBackend() (session.Backend, error) {
	if s.sessionBackend != nil {
		return s.sessionBackend, nil
	}
	switch s.cfg.SessionBackend {
	case config.SessionBackendRedis:
		if s.redis == nil {
			return nil, errors.New("redis session backend needs REDIS_URL")
		}
		return session.NewRedisBackend(s.redis), nil
	case config.SessionBackendDynamoDB:
		if s.awsCfg == nil {
			return nil, errors.New("dynamodb session backend needs AWS configuration")
		}
		return session.NewDynamoBackend(dynamodb.NewFromConfig(*s.awsCfg), s.cfg.SessionTable), nil
	default:
		return session.NewMemoryBackend(), nil
	}
}

func (s *Storefront) buildPayments(ctx context.Context) error {
	if s.paymentGateway != nil {
		return nil
	}
	key := s.cfg.StripeSecretKey
	if key == "" && s.cfg.StripeSecretName != "" {
		if s.awsCfg == nil {
			return errors.New("STRIPE_SECRET_NAME needs AWS configuration")
		}
		secret, err := pkgaws.NewSecretsClient(*s.awsCfg).GetSecretField(ctx, s.cfg.StripeSecretName, s.cfg.StripeSecretField)
		if err != nil {
			return fmt.Errorf("load stripe key: %w", err)
		}
		key = secret
	}
	if key != "" {
		s.paymentGateway = payment.NewStripeGateway(key, s.logger)
	}
	return nil
}

func (s *Storefront) count(ctx context.Context, name string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(context.WithoutCancel(ctx), name, nil); err != nil {
		s.logger.Debug("Failed to record metric", zap.String("metric", name), zap.Error(err))
	}
}

func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
