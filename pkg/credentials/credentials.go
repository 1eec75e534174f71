// Package credentials validates tenant credential sets against the third-party
// services an automation depends on.
package credentials

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dukex/provisioner/pkg/models"
)

// Reason classifies a validation outcome so callers can branch without
// matching on messages.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonRejected    Reason = "rejected"
	ReasonUnreachable Reason = "unreachable"
	ReasonMissing     Reason = "missing"
	ReasonExpired     Reason = "expired"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultCacheTTL    = 5 * time.Minute
	defaultConcurrency = 8
)

// ValidationResult is the outcome of validating one service's credentials.
type ValidationResult struct {
	Service  string                   `json:"service"`
	Valid    bool                     `json:"valid"`
	Message  string                   `json:"message"`
	Reason   Reason                   `json:"reason"`
	Level    models.VerificationLevel `json:"level"`
	TestedAt time.Time                `json:"tested_at"`
}

// CredentialStatus maps the outcome to the status stored on the credential.
// Unreachable providers leave the credential pending.
func (r ValidationResult) CredentialStatus() models.CredentialStatus {
	switch r.Reason {
	case ReasonOK:
		return models.CredentialStatusValid
	case ReasonUnreachable:
		return models.CredentialStatusPending
	case ReasonExpired:
		return models.CredentialStatusExpired
	default:
		return models.CredentialStatusInvalid
	}
}

// Request is one entry of a batch validation.
type Request struct {
	Service     string            `json:"service"     validate:"required"`
	Credentials map[string]string `json:"credentials"`
}

// ReadinessResult reports whether every required service has valid credentials.
type ReadinessResult struct {
	Ready   bool               `json:"ready"`
	Results []ValidationResult `json:"results"`
}

// Validator checks one service's credentials. Implementations never return
// errors; every failure mode is expressed in the result.
type Validator interface {
	Service() string
	Fields() []string
	Validate(ctx context.Context, creds map[string]string) ValidationResult
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// WithBaseURL points a known service at another host, typically a test server.
func WithBaseURL(service, baseURL string) Option {
	return func(s *Service) {
		s.baseURLs[service] = strings.TrimSuffix(baseURL, "/")
	}
}

// WithCache enables result caching for readiness checks.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.cacheTTL = ttl
	}
}

// WithValidator registers or replaces the validator of a service.
func WithValidator(v Validator) Option {
	return func(s *Service) {
		s.custom[v.Service()] = v
	}
}

// Service dispatches validation to the validator registered for each service,
// falling back to a shape-only check for services it does not know.
type Service struct {
	logger   *slog.Logger
	client   *http.Client
	timeout  time.Duration
	baseURLs map[string]string
	custom   map[string]Validator
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time

	validators map[string]Validator
}

func NewService(logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		logger:   logger.With("module", "credentials"),
		timeout:  DefaultTimeout,
		baseURLs: make(map[string]string),
		custom:   make(map[string]Validator),
		cacheTTL: DefaultCacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = &http.Client{Timeout: s.timeout}
	}

	s.validators = make(map[string]Validator, len(registry)+len(s.custom))

	for name, spec := range registry {
		s.validators[name] = &httpValidator{
			service: name,
			spec:    spec,
			baseURL: s.baseURLs[name],
			client:  s.client,
			timeout: s.timeout,
		}
	}

	for name, v := range s.custom {
		s.validators[name] = v
	}

	return s
}

// Validate checks creds for service. Explicit validation never reads the cache.
func (s *Service) Validate(ctx context.Context, service string, creds map[string]string) ValidationResult {
	result := s.validate(ctx, service, creds)

	s.logger.DebugContext(ctx, "validated credentials",
		"service", service,
		"valid", result.Valid,
		"reason", result.Reason,
	)

	return result
}

func (s *Service) validate(ctx context.Context, service string, creds map[string]string) ValidationResult {
	v, known := s.validators[service]
	if !known {
		v = genericValidator{service: service}
	}

	if len(creds) == 0 {
		return s.stamp(ValidationResult{
			Service: service,
			Reason:  ReasonMissing,
			Level:   models.VerificationNone,
			Message: fmt.Sprintf("no credentials supplied for %s", service),
		})
	}

	missing := missingFields(v.Fields(), creds)
	if !known {
		missing = emptyFields(creds)
	}

	if len(missing) > 0 {
		return s.stamp(ValidationResult{
			Service: service,
			Reason:  ReasonMissing,
			Level:   models.VerificationNone,
			Message: fmt.Sprintf("missing required field(s) for %s: %s", service, strings.Join(missing, ", ")),
		})
	}

	result := v.Validate(ctx, creds)
	result.Service = service
	result.Message = redact(result.Message, creds)

	return s.stamp(result)
}

func (s *Service) stamp(result ValidationResult) ValidationResult {
	result.TestedAt = s.now()

	return result
}

// ValidateMany validates every request concurrently. Results keep request order.
func (s *Service) ValidateMany(ctx context.Context, requests []Request) []ValidationResult {
	return s.fanOut(ctx, requests, s.Validate)
}

func (s *Service) fanOut(
	ctx context.Context,
	requests []Request,
	validate func(context.Context, string, map[string]string) ValidationResult,
) []ValidationResult {
	results := make([]ValidationResult, len(requests))

	var g errgroup.Group

	g.SetLimit(defaultConcurrency)

	for i, req := range requests {
		g.Go(func() error {
			results[i] = validate(ctx, req.Service, req.Credentials)

			return nil
		})
	}

	_ = g.Wait()

	return results
}

// CheckReadiness validates the stored credentials of every required service.
// A service without stored credentials is reported as not connected and never
// reaches the network.
func (s *Service) CheckReadiness(
	ctx context.Context,
	required []string,
	credsByService map[string]map[string]string,
) ReadinessResult {
	results := make([]ValidationResult, len(required))
	requests := make([]Request, 0, len(required))
	positions := make([]int, 0, len(required))

	for i, service := range required {
		creds, ok := credsByService[service]
		if !ok || len(creds) == 0 {
			results[i] = s.stamp(ValidationResult{
				Service: service,
				Reason:  ReasonMissing,
				Level:   models.VerificationNone,
				Message: fmt.Sprintf("%s is not connected", service),
			})

			continue
		}

		requests = append(requests, Request{Service: service, Credentials: creds})
		positions = append(positions, i)
	}

	for j, result := range s.fanOut(ctx, requests, s.validateCached) {
		results[positions[j]] = result
	}

	ready := true

	for _, result := range results {
		if !result.Valid {
			ready = false
		}
	}

	return ReadinessResult{Ready: ready, Results: results}
}

func (s *Service) validateCached(ctx context.Context, service string, creds map[string]string) ValidationResult {
	if s.cache == nil {
		return s.Validate(ctx, service, creds)
	}

	key := Fingerprint(service, creds)

	cached, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "validation cache read failed", "service", service, "error", err)
	}

	if found {
		return cached
	}

	result := s.Validate(ctx, service, creds)

	// Unreachable providers may recover at any moment.
	if result.Reason == ReasonUnreachable {
		return result
	}

	err = s.cache.Set(ctx, key, result, s.cacheTTL)
	if err != nil {
		s.logger.WarnContext(ctx, "validation cache write failed", "service", service, "error", err)
	}

	return result
}

// Known lists the services with a dedicated validator, sorted.
func (s *Service) Known() []string {
	names := make([]string, 0, len(s.validators))
	for name := range s.validators {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Fields returns the credential fields a known service requires.
func Fields(service string) ([]string, bool) {
	spec, ok := registry[service]
	if !ok {
		return nil, false
	}

	return spec.fields, true
}

func missingFields(fields []string, creds map[string]string) []string {
	missing := make([]string, 0)

	for _, field := range fields {
		if strings.TrimSpace(creds[field]) == "" {
			missing = append(missing, field)
		}
	}

	return missing
}

func emptyFields(creds map[string]string) []string {
	empty := make([]string, 0)

	for field, value := range creds {
		if strings.TrimSpace(value) == "" {
			empty = append(empty, field)
		}
	}

	sort.Strings(empty)

	return empty
}

// genericValidator accepts any complete credential set without contacting the
// provider. Its results are marked shape_checked.
type genericValidator struct {
	service string
}

func (g genericValidator) Service() string {
	return g.service
}

func (g genericValidator) Fields() []string {
	return nil
}

func (genericValidator) Validate(_ context.Context, _ map[string]string) ValidationResult {
	return ValidationResult{
		Valid:   true,
		Reason:  ReasonOK,
		Level:   models.VerificationShapeChecked,
		Message: "credentials present, manual verification recommended",
	}
}

// redact replaces credential values in message. Values shorter than four
// characters are left alone.
func redact(message string, creds map[string]string) string {
	for _, value := range creds {
		if len(value) < 4 {
			continue
		}

		message = strings.ReplaceAll(message, value, "[redacted]")
		message = strings.ReplaceAll(message, url.QueryEscape(value), "[redacted]")
	}

	return message
}
