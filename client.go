package revdump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// InitialSince is the cursor sentinel meaning "from the beginning". It is
	// never sent to the server.
	InitialSince = "0"
	// SinceParam is the query parameter carrying the cursor.
	SinceParam = "since"
	// NextSinceHeader carries the cursor for the next request.
	NextSinceHeader = "X-Next-Since"
	// UpToDateHeader is "true" on the last page.
	UpToDateHeader = "Up-To-Date"
)

// Page is one decoded response of the revocation list endpoint.
type Page struct {
	RevokedCerts  []string
	ValidDuration int64
	NextSince     string
	UpToDate      bool
}

// RevocationListClient fetches one page of the revocation list starting at
// the since cursor.
type RevocationListClient interface {
	FetchPage(ctx context.Context, since string) (Page, error)
}

// TransportError is returned when the request could not be completed on the
// network: connection errors, timeouts and bodies that could not be read to
// the end. These are the only errors that revdump.Fetcher retries.
type TransportError struct {
	Err error
}

func (e TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// MalformedResponseError is returned when the server answered but the
// response does not have the documented shape.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed revocation list response: %s: %v", e.Reason, e.Err)
	}
	return "malformed revocation list response: " + e.Reason
}

func (e MalformedResponseError) Unwrap() error {
	return e.Err
}

// UnexpectedStatusError is returned for any status other than 200 OK.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
}

const maxStatusBodyLen = 256

func (e UnexpectedStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("revocation list returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("revocation list returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient is the RevocationListClient for the revocation list endpoint
// over HTTP.
type HTTPClient struct {
	endpoint  *url.URL
	token     string
	userAgent string
	timeout   time.Duration
	inner     *http.Client
}

// HTTPClientOptionFunc is type of an functional option for revdump.HTTPClient.
type HTTPClientOptionFunc func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPClientOptionFunc {
	return func(h *HTTPClient) {
		h.inner = c
	}
}

// WithRequestTimeout bounds every request. Zero means no timeout.
func WithRequestTimeout(timeout time.Duration) HTTPClientOptionFunc {
	return func(h *HTTPClient) {
		h.timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header of every request.
func WithUserAgent(ua string) HTTPClientOptionFunc {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// NewHTTPClient creates a new instance of revdump.HTTPClient for the given
// endpoint and bearer token.
func NewHTTPClient(endpoint string, token string, optFuncs ...HTTPClientOptionFunc) (*HTTPClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid revocation list endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid revocation list endpoint: unsupported scheme %q", u.Scheme)
	}

	c := &HTTPClient{
		endpoint: u,
		token:    token,
		inner:    new(http.Client),
	}

	for _, optF := range optFuncs {
		optF(c)
	}

	return c, nil
}

// RequestURL returns the URL requested for the since cursor. The since
// parameter is omitted for InitialSince.
func (c *HTTPClient) RequestURL(since string) string {
	u := *c.endpoint
	if since != InitialSince {
		q := u.Query()
		q.Set(SinceParam, since)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *HTTPClient) newRequest(ctx context.Context, since string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RequestURL(since), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// FetchPage requests one page and decodes it.
//
// Errors are classified so the caller can tell what to retry:
//   - TransportError when no complete response was received.
//   - UnexpectedStatusError when the status is not 200 OK.
//   - MalformedResponseError when the body or the headers do not match the
//     documented response.
func (c *HTTPClient) FetchPage(ctx context.Context, since string) (Page, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, since)
	if err != nil {
		return Page{}, err
	}

	resp, err := c.inner.Do(req)
	if err != nil {
		return Page{}, TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Page{}, TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return Page{}, UnexpectedStatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	return ParsePage(resp.Header, body)
}

// truncateBody cuts body to at most maxStatusBodyLen bytes without splitting
// a UTF-8 sequence.
func truncateBody(body []byte) string {
	if len(body) <= maxStatusBodyLen {
		return string(body)
	}
	end := maxStatusBodyLen
	for end > 0 && !utf8.RuneStart(body[end]) {
		end--
	}
	return string(body[:end])
}

type pageBody struct {
	RevokedCerts *[]*string `json:"revokedCerts"`
	// Kept raw: decoding into json.Number would also accept "100".
	ValidDuration json.RawMessage `json:"validDuration"`
}

var errNullEntry = errors.New("null entry")

// ParsePage decodes a response body and its headers into a Page. The body is
// decoded first, then the headers.
func ParsePage(header http.Header, body []byte) (Page, error) {
	var pb pageBody
	if err := json.Unmarshal(body, &pb); err != nil {
		return Page{}, MalformedResponseError{Reason: "invalid JSON body", Err: err}
	}

	if pb.RevokedCerts == nil {
		return Page{}, MalformedResponseError{Reason: "missing field revokedCerts"}
	}
	certs := make([]string, 0, len(*pb.RevokedCerts))
	for i, c := range *pb.RevokedCerts {
		if c == nil {
			return Page{}, MalformedResponseError{
				Reason: fmt.Sprintf("revokedCerts[%d]", i),
				Err:    errNullEntry,
			}
		}
		certs = append(certs, *c)
	}

	validDuration, err := parseValidDuration(pb.ValidDuration)
	if err != nil {
		return Page{}, err
	}

	nextSince, ok := headerValue(header, NextSinceHeader)
	if !ok {
		return Page{}, MalformedResponseError{Reason: "missing header " + NextSinceHeader}
	}
	upToDate, ok := headerValue(header, UpToDateHeader)
	if !ok {
		return Page{}, MalformedResponseError{Reason: "missing header " + UpToDateHeader}
	}

	return Page{
		RevokedCerts:  certs,
		ValidDuration: validDuration,
		NextSince:     nextSince,
		UpToDate:      upToDate == "true",
	}, nil
}

func parseValidDuration(raw json.RawMessage) (int64, error) {
	switch {
	case len(raw) == 0:
		return 0, MalformedResponseError{Reason: "missing field validDuration"}
	case string(raw) == "null":
		return 0, MalformedResponseError{Reason: "validDuration is null"}
	case raw[0] != '-' && (raw[0] < '0' || raw[0] > '9'):
		return 0, MalformedResponseError{Reason: "validDuration is not an integer: " + string(raw)}
	}

	d, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, MalformedResponseError{Reason: "validDuration is not an integer", Err: err}
	}
	return d, nil
}

// headerValue returns the values of a header joined by ", " and whether the
// header was present at all.
func headerValue(header http.Header, key string) (string, bool) {
	vals := header.Values(key)
	if len(vals) == 0 {
		return "", false
	}
	return strings.Join(vals, ", "), true
}
