package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"taskmcp-go/internal/config"
)

const (
	// defaultBaseURL is the Google Calendar v3 API root.
	defaultBaseURL = "https://www.googleapis.com/calendar/v3"

	// httpTimeout bounds a single calendar API request.
	httpTimeout = 15 * time.Second
)

// GoogleClient implements EventCreator against the Google Calendar REST
// API, authenticating each request with the caller's tokens through an
// oauth2 token source.
type GoogleClient struct {
	conf    *oauth2.Config
	baseURL string
	logger  *zap.SugaredLogger
}

// NewGoogleClient builds a calendar client. The Google client id and
// secret are needed so the token source can renew expired access tokens.
func NewGoogleClient(cfg *config.GoogleConfig, logger *zap.SugaredLogger) *GoogleClient {
	return &GoogleClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

type eventDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventBody struct {
	Summary     string        `json:"summary"`
	Description string        `json:"description"`
	Start       eventDateTime `json:"start"`
	End         eventDateTime `json:"end"`
}

type eventResponse struct {
	ID       string `json:"id"`
	HTMLLink string `json:"htmlLink"`
	Status   string `json:"status"`
}

// CreateEvent inserts the event into the user's primary calendar and
// returns the created event's id and link.
func (c *GoogleClient) CreateEvent(ctx context.Context, creds Credentials, event Event) (*CreatedEvent, error) {
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("access token is required for calendar access")
	}
	if event.DurationMinutes <= 0 {
		return nil, fmt.Errorf("event duration must be positive, got %d", event.DurationMinutes)
	}

	end := event.Start.Add(time.Duration(event.DurationMinutes) * time.Minute)
	body := eventBody{
		Summary:     event.Title,
		Description: event.Description,
		Start:       eventDateTime{DateTime: event.Start.Format(time.RFC3339), TimeZone: timeZoneName(event.Start)},
		End:         eventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: timeZoneName(end)},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	url := c.baseURL + "/calendars/primary/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(ctx, creds).Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warnw("Calendar API rejected event",
			"status", resp.StatusCode,
			"title", event.Title)
		return nil, fmt.Errorf("calendar API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var created eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode event response: %w", err)
	}

	c.logger.Debugw("Created calendar event",
		"event_id", created.ID,
		"start", body.Start.DateTime)

	return &CreatedEvent{ID: created.ID, HTMLURL: created.HTMLLink}, nil
}

// httpClient wraps the per-call tokens into an authenticated client.
// With a refresh token present the token source can renew an expired
// access token; otherwise the access token is sent as-is.
func (c *GoogleClient) httpClient(ctx context.Context, creds Credentials) *http.Client {
	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.Expiry,
	}

	var src oauth2.TokenSource
	if creds.RefreshToken != "" && c.conf.Endpoint.TokenURL != "" {
		src = c.conf.TokenSource(ctx, tok)
	} else {
		src = oauth2.StaticTokenSource(tok)
	}

	client := oauth2.NewClient(ctx, src)
	client.Timeout = httpTimeout
	return client
}

// timeZoneName resolves the zone label sent alongside a dateTime. The
// RFC 3339 dateTime already carries the authoritative offset; the label
// only affects how the provider displays the event.
func timeZoneName(t time.Time) string {
	name, offset := t.Zone()
	if offset == 0 {
		return "UTC"
	}
	if name != "" {
		return name
	}
	return t.Format("-07:00")
}
