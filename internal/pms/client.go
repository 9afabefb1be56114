package pms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/strefethen/hotel-hub-go/internal/guests"
	"github.com/strefethen/hotel-hub-go/internal/notifications"
)

// Client is the PMS capability used by the reconciliation service.
type Client interface {
	FetchRoom(ctx context.Context, creds Credentials, room string) (*RoomSnapshot, error)
	Ping(ctx context.Context, creds Credentials) error
}

// ClientOptions tunes the HTTP client.
type ClientOptions struct {
	Timeout    time.Duration
	RetryCount int
}

// HTTPClient calls the PMS REST API with bearer authorization.
type HTTPClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewHTTPClient creates a PMS client. Credentials are supplied per call so the
// same client serves stored settings and ad hoc connection tests.
func NewHTTPClient(opts ClientOptions, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	return &HTTPClient{httpClient: client, logger: logger}
}

type guestResponse struct {
	Guest *guestRecord `json:"guest"`
}

type guestRecord struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Arrival   string  `json:"arrival"`
	Departure *string `json:"departure"`
	Status    string  `json:"status"`
}

type folioResponse struct {
	Items []folioItem `json:"items"`
}

type folioItem struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	PostedAt    string  `json:"posted_at"`
}

// FetchRoom loads the current guest and folio of room. A vacant room is not
// an error: the snapshot carries a nil Guest and no bills.
func (c *HTTPClient) FetchRoom(ctx context.Context, creds Credentials, room string) (*RoomSnapshot, error) {
	snapshot := &RoomSnapshot{RoomNumber: room, Bills: []guests.Bill{}, FetchedAt: time.Now().UTC()}

	var guestBody guestResponse
	found, err := c.getJSON(ctx, creds, roomPath(creds, room, "guest"), &guestBody)
	if err != nil {
		return nil, err
	}
	if !found || guestBody.Guest == nil || strings.EqualFold(guestBody.Guest.Status, "checked_out") {
		return snapshot, nil
	}

	guest, err := mapGuest(guestBody.Guest)
	if err != nil {
		return nil, err
	}
	snapshot.Guest = guest

	var folio folioResponse
	found, err = c.getJSON(ctx, creds, roomPath(creds, room, "folio"), &folio)
	if err != nil {
		return nil, err
	}
	if found {
		bills, err := mapFolio(folio.Items)
		if err != nil {
			return nil, err
		}
		snapshot.Bills = bills
	}

	c.logger.Debug("PMS room fetched",
		zap.String("room_number", room),
		zap.String("guest_name", guest.GuestName),
		zap.Int("bills", len(snapshot.Bills)),
	)
	return snapshot, nil
}

// Ping checks that the property endpoint answers with the given credentials.
func (c *HTTPClient) Ping(ctx context.Context, creds Credentials) error {
	var body map[string]any
	found, err := c.getJSON(ctx, creds, propertyPath(creds), &body)
	if err != nil {
		return err
	}
	if !found {
		return &FetchError{Category: CategoryInvalidResponse, StatusCode: http.StatusNotFound,
			Err: errors.New("property not found")}
	}
	return nil
}

// getJSON performs an authorized GET. found is false for 404.
func (c *HTTPClient) getJSON(ctx context.Context, creds Credentials, path string, dst any) (bool, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(creds.APIKey).
		Get(strings.TrimRight(creds.BaseURL, "/") + path)
	if err != nil {
		return false, classifyTransport(err)
	}

	status := resp.StatusCode()
	if status == http.StatusNotFound {
		return false, nil
	}
	if status < 200 || status >= 300 {
		return false, classifyStatus(status)
	}

	if err := json.Unmarshal(resp.Body(), dst); err != nil {
		return false, &FetchError{Category: CategoryInvalidResponse, StatusCode: status, Err: err}
	}
	return true, nil
}

func propertyPath(creds Credentials) string {
	return "/api/v1/properties/" + url.PathEscape(creds.PropertyID)
}

func roomPath(creds Credentials, room, resource string) string {
	return propertyPath(creds) + "/rooms/" + url.PathEscape(room) + "/" + resource
}

func mapGuest(record *guestRecord) (*notifications.GuestSnapshot, error) {
	name := strings.TrimSpace(strings.TrimSpace(record.FirstName) + " " + strings.TrimSpace(record.LastName))
	if name == "" {
		return nil, &FetchError{Category: CategoryInvalidResponse, Err: errors.New("guest has no name")}
	}
	checkIn, err := parsePMSTime(record.Arrival)
	if err != nil {
		return nil, &FetchError{Category: CategoryInvalidResponse, Err: err}
	}

	guest := &notifications.GuestSnapshot{GuestName: name, CheckIn: checkIn}
	if record.Departure != nil && *record.Departure != "" {
		checkOut, err := parsePMSTime(*record.Departure)
		if err != nil {
			return nil, &FetchError{Category: CategoryInvalidResponse, Err: err}
		}
		guest.CheckOut = &checkOut
	}
	return guest, nil
}

func mapFolio(items []folioItem) ([]guests.Bill, error) {
	bills := make([]guests.Bill, 0, len(items))
	for _, item := range items {
		postedAt, err := parsePMSTime(item.PostedAt)
		if err != nil {
			return nil, &FetchError{Category: CategoryInvalidResponse, Err: err}
		}
		bills = append(bills, guests.Bill{
			Label:    item.Description,
			Amount:   item.Amount,
			BillDate: postedAt,
		})
	}
	return bills, nil
}

func parsePMSTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
