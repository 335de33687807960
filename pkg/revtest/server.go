// Package revtest provides an in-process revocation list server speaking the
// same wire format as the real endpoint: a JSON body with revokedCerts and
// validDuration, and the X-Next-Since and Up-To-Date headers.
package revtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Path is the path of the revocation list resource.
const Path = "/trust/v2/revocationList"

// Page is one response of the server. Page i is served for the since value
// equal to the NextSince of page i-1; page 0 is served without since or
// with since=0.
type Page struct {
	RevokedCerts  []string
	ValidDuration int64
	NextSince     string
	UpToDate      bool
}

// Request is what the server recorded about one received request.
type Request struct {
	Since         string
	HasSince      bool
	Accept        string
	Authorization string
	Page          int
	Dropped       bool
}

type fault struct {
	drops         int
	rawBody       *string
	omitHeaders   []string
	status        int
	statusRepeats int
}

// Server is a revocation list server for tests.
type Server struct {
	pages  []Page
	token  string
	logger zerolog.Logger

	mu       sync.Mutex
	faults   map[int]*fault
	requests []Request

	httpServer *httptest.Server
}

// Option is type of an functional option for revtest.Server.
type Option func(*Server)

// WithToken makes the server answer 401 unless the request carries
// "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithLogger sets the access logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func (s *Server) fault(page int) *fault {
	f, ok := s.faults[page]
	if !ok {
		f = &fault{}
		s.faults[page] = f
	}
	return f
}

// WithDrops closes the connection without answering the first n requests
// for page.
func WithDrops(page int, n int) Option {
	return func(s *Server) {
		s.fault(page).drops = n
	}
}

// WithRawBody serves body instead of the encoded page.
func WithRawBody(page int, body string) Option {
	return func(s *Server) {
		s.fault(page).rawBody = &body
	}
}

// WithoutHeader leaves header out of the response for page.
func WithoutHeader(page int, header string) Option {
	return func(s *Server) {
		f := s.fault(page)
		f.omitHeaders = append(f.omitHeaders, header)
	}
}

// WithStatus answers the first n requests for page with status and an empty
// body. n <= 0 means every request.
func WithStatus(page int, status int, n int) Option {
	return func(s *Server) {
		f := s.fault(page)
		f.status = status
		f.statusRepeats = n
	}
}

// NewServer starts a server serving pages. Callers must Close it.
func NewServer(pages []Page, opts ...Option) *Server {
	s := &Server{
		pages:  pages,
		logger: zerolog.Nop(),
		faults: make(map[int]*fault),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = httptest.NewServer(s.Handler())
	return s
}

// URL returns the full URL of the revocation list resource.
func (s *Server) URL() string {
	return s.httpServer.URL + Path
}

// Close shuts the server down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// Requests returns a copy of the recorded requests in arrival order.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs := make([]Request, len(s.requests))
	copy(reqs, s.requests)
	return reqs
}

func (s *Server) pageIndex(since string, hasSince bool) int {
	if !hasSince || since == "0" {
		return 0
	}
	for i := 1; i < len(s.pages); i++ {
		if s.pages[i-1].NextSince == since {
			return i
		}
	}
	return -1
}

// record registers the request and reports whether its connection must be
// dropped.
func (s *Server) record(r *http.Request) (Request, bool) {
	q := r.URL.Query()
	_, hasSince := q["since"]

	req := Request{
		Since:         q.Get("since"),
		HasSince:      hasSince,
		Accept:        r.Header.Get("Accept"),
		Authorization: r.Header.Get("Authorization"),
	}
	req.Page = s.pageIndex(req.Since, req.HasSince)

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.faults[req.Page]; ok && f.drops > 0 {
		f.drops--
		req.Dropped = true
	}
	s.requests = append(s.requests, req)

	return req, req.Dropped
}

// dropConnection is the outermost handler so that it still sees the
// connection's own http.ResponseWriter.
func (s *Server) dropConnection(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, drop := s.record(r)
		if drop {
			hj, ok := w.(http.Hijacker)
			if !ok {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				conn.Close()
			}
			return
		}
		// Connections are never reused, so the client cannot silently
		// resend a request whose connection was dropped.
		w.Header().Set("Connection", "close")
		h.ServeHTTP(w, r)
	})
}

func handleNotallowedMethod(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func handleUnauthorized(token string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}

// Handler returns the server's handler chain.
// (It uses 'https://github.com/justinas/alice' to chain the handlers.)
//   - Drop the connection when a drop is pending for the requested page.
//   - Log the access with zerolog/hlog.
//   - Send http.StatusMethodNotAllowed unless the request method is GET.
//   - Send http.StatusUnauthorized when the bearer token does not match.
func (s *Server) Handler() http.Handler {
	chain := alice.New(s.dropConnection)
	chain = chain.Append(hlog.NewHandler(s.logger))
	chain = chain.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	chain = chain.Append(handleNotallowedMethod)
	chain = chain.Append(handleUnauthorized(s.token))

	mux := http.NewServeMux()
	mux.Handle(Path, chain.ThenFunc(s.serveRevocationList))
	return mux
}

type pageBody struct {
	RevokedCerts  []string `json:"revokedCerts"`
	ValidDuration int64    `json:"validDuration"`
}

func (s *Server) serveRevocationList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	_, hasSince := q["since"]
	idx := s.pageIndex(q.Get("since"), hasSince)
	if idx < 0 || idx >= len(s.pages) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	page := s.pages[idx]

	s.mu.Lock()
	var f fault
	if pf, ok := s.faults[idx]; ok {
		f = *pf
		if pf.status != 0 && pf.statusRepeats > 0 {
			pf.statusRepeats--
			if pf.statusRepeats == 0 {
				pf.status = 0
			}
		}
	}
	s.mu.Unlock()

	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}

	headers := map[string]string{
		"X-Next-Since": page.NextSince,
		"Up-To-Date":   strconv.FormatBool(page.UpToDate),
	}
	for _, h := range f.omitHeaders {
		delete(headers, http.CanonicalHeaderKey(h))
	}
	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")

	if f.rawBody != nil {
		_, err := w.Write([]byte(*f.rawBody))
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("")
		}
		return
	}

	certs := page.RevokedCerts
	if certs == nil {
		certs = []string{}
	}
	err := json.NewEncoder(w).Encode(pageBody{RevokedCerts: certs, ValidDuration: page.ValidDuration})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("")
	}
}
