package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/provisioner/pkg/models"
)

// serviceSpec describes the "whoami" call of one provider. defaultBaseURL may
// depend on the credentials, e.g. a shop domain. accept inspects a 2xx body for
// providers that report failures in-band.
type serviceSpec struct {
	label          string
	fields         []string
	defaultBaseURL func(creds map[string]string) (string, error)
	request        func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error)
	accept         func(body []byte) (bool, string)
}

func fixedBase(base string) func(map[string]string) (string, error) {
	return func(map[string]string) (string, error) {
		return base, nil
	}
}

func bearerGet(path, field string) func(context.Context, string, map[string]string) (*http.Request, error) {
	return func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+creds[field])

		return req, nil
	}
}

var registry = map[string]serviceSpec{
	"tripletex": {
		label:          "Tripletex",
		fields:         []string{"consumer_token", "employee_token"},
		defaultBaseURL: fixedBase("https://tripletex.no"),
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			query := url.Values{}
			query.Set("consumerToken", creds["consumer_token"])
			query.Set("employeeToken", creds["employee_token"])
			query.Set("expirationDate", time.Now().UTC().AddDate(0, 0, 1).Format(time.DateOnly))

			return http.NewRequestWithContext(ctx, http.MethodPut, baseURL+"/v2/token/session/:create?"+query.Encode(), nil)
		},
	},
	"vipps": {
		label:          "Vipps",
		fields:         []string{"client_id", "client_secret", "subscription_key"},
		defaultBaseURL: fixedBase("https://api.vipps.no"),
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/accesstoken/get", nil)
			if err != nil {
				return nil, err
			}

			req.Header.Set("client_id", creds["client_id"])
			req.Header.Set("client_secret", creds["client_secret"])
			req.Header.Set("Ocp-Apim-Subscription-Key", creds["subscription_key"])

			return req, nil
		},
	},
	"fiken": {
		label:          "Fiken",
		fields:         []string{"api_token"},
		defaultBaseURL: fixedBase("https://api.fiken.no"),
		request:        bearerGet("/api/v2/user", "api_token"),
	},
	"stripe": {
		label:          "Stripe",
		fields:         []string{"secret_key"},
		defaultBaseURL: fixedBase("https://api.stripe.com"),
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/account", nil)
			if err != nil {
				return nil, err
			}

			req.SetBasicAuth(creds["secret_key"], "")

			return req, nil
		},
	},
	"hubspot": {
		label:          "HubSpot",
		fields:         []string{"access_token"},
		defaultBaseURL: fixedBase("https://api.hubapi.com"),
		request:        bearerGet("/account-info/v3/details", "access_token"),
	},
	"slack": {
		label:          "Slack",
		fields:         []string{"bot_token"},
		defaultBaseURL: fixedBase("https://slack.com"),
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/auth.test", nil)
			if err != nil {
				return nil, err
			}

			req.Header.Set("Authorization", "Bearer "+creds["bot_token"])

			return req, nil
		},
		accept: func(body []byte) (bool, string) {
			var reply struct {
				OK    bool   `json:"ok"`
				Error string `json:"error"`
			}

			err := json.Unmarshal(body, &reply)
			if err != nil {
				return false, "unexpected response"
			}

			return reply.OK, reply.Error
		},
	},
	"google_calendar": {
		label:          "Google Calendar",
		fields:         []string{"access_token"},
		defaultBaseURL: fixedBase("https://www.googleapis.com"),
		request:        bearerGet("/calendar/v3/users/me/calendarList?maxResults=1", "access_token"),
	},
	"microsoft_graph": {
		label:          "Microsoft 365",
		fields:         []string{"access_token"},
		defaultBaseURL: fixedBase("https://graph.microsoft.com"),
		request:        bearerGet("/v1.0/me", "access_token"),
	},
	"mailchimp": {
		label:  "Mailchimp",
		fields: []string{"api_key"},
		defaultBaseURL: func(creds map[string]string) (string, error) {
			_, dc, found := strings.Cut(creds["api_key"], "-")
			if !found || dc == "" {
				return "", errors.New("api_key must end with the data center suffix, e.g. -us6")
			}

			return "https://" + dc + ".api.mailchimp.com", nil
		},
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/3.0/ping", nil)
			if err != nil {
				return nil, err
			}

			req.SetBasicAuth("provisioner", creds["api_key"])

			return req, nil
		},
	},
	"pipedrive": {
		label:          "Pipedrive",
		fields:         []string{"api_token"},
		defaultBaseURL: fixedBase("https://api.pipedrive.com"),
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			query := url.Values{}
			query.Set("api_token", creds["api_token"])

			return http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/users/me?"+query.Encode(), nil)
		},
	},
	"shopify": {
		label:  "Shopify",
		fields: []string{"shop_domain", "access_token"},
		defaultBaseURL: func(creds map[string]string) (string, error) {
			domain := strings.TrimSuffix(strings.TrimPrefix(creds["shop_domain"], "https://"), "/")
			if domain == "" || strings.ContainsAny(domain, "/?#@") {
				return "", errors.New("shop_domain must be a bare host such as example.myshopify.com")
			}

			return "https://" + domain, nil
		},
		request: func(ctx context.Context, baseURL string, creds map[string]string) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/admin/api/2024-01/shop.json", nil)
			if err != nil {
				return nil, err
			}

			req.Header.Set("X-Shopify-Access-Token", creds["access_token"])

			return req, nil
		},
	},
}

// httpValidator performs the provider's whoami call.
type httpValidator struct {
	service string
	spec    serviceSpec
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func (v *httpValidator) Service() string {
	return v.service
}

func (v *httpValidator) Fields() []string {
	return v.spec.fields
}

func (v *httpValidator) Validate(ctx context.Context, creds map[string]string) ValidationResult {
	label := v.spec.label

	baseURL := v.baseURL
	if baseURL == "" {
		var err error

		baseURL, err = v.spec.defaultBaseURL(creds)
		if err != nil {
			return rejected(fmt.Sprintf("%s credentials are malformed: %v", label, err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := v.spec.request(ctx, baseURL, creds)
	if err != nil {
		return unreachable(fmt.Sprintf("could not build %s request: %v", label, transportError(err)))
	}

	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return unreachable(fmt.Sprintf("could not reach %s: %v", label, transportError(err)))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return unreachable(fmt.Sprintf("could not read %s response: %v", label, transportError(err)))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if v.spec.accept != nil {
			ok, detail := v.spec.accept(body)
			if !ok {
				return rejected(fmt.Sprintf("%s rejected the credentials: %s", label, detail))
			}
		}

		return ValidationResult{
			Valid:   true,
			Reason:  ReasonOK,
			Level:   models.VerificationVerified,
			Message: label + " credentials verified",
		}
	case resp.StatusCode == http.StatusUnauthorized && expiredBody(body):
		return ValidationResult{
			Reason:  ReasonExpired,
			Level:   models.VerificationNone,
			Message: label + " credentials have expired, reconnect the integration",
		}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return unreachable(fmt.Sprintf("%s is unavailable (HTTP %d), try again later", label, resp.StatusCode))
	default:
		return rejected(fmt.Sprintf("%s rejected the credentials (HTTP %d)", label, resp.StatusCode))
	}
}

// transportError drops the request URL from client errors. Some providers take
// credentials in the query string.
func transportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}

	return err
}

func expiredBody(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "expired")
}

func rejected(message string) ValidationResult {
	return ValidationResult{Reason: ReasonRejected, Level: models.VerificationNone, Message: message}
}

func unreachable(message string) ValidationResult {
	return ValidationResult{Reason: ReasonUnreachable, Level: models.VerificationNone, Message: message}
}
