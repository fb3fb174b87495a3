// Package stripetest fakes the parts of the card provider's REST API the checkout service uses
// and signs webhook payloads the way the provider does.
package stripetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/offroad-parts/checkout/internal/config"
)

const (
	SecretKey     = "sk_test_fake"
	WebhookSecret = "whsec_test_fake"
)

type Item struct {
	ProductID  string
	Name       string
	UnitAmount int64
	Quantity   int64
}

type Session struct {
	ID            string
	PaymentStatus string
	UserID        string
	Email         string
	Items         []Item
	// PageSize caps the line items embedded in the session; the rest are only reachable
	// through the line_items list. Zero embeds them all.
	PageSize int
	// AmountTotal overrides the total computed from Items.
	AmountTotal int64
}

func (s Session) amountTotal() int64 {
	if s.AmountTotal != 0 {
		return s.AmountTotal
	}
	var total int64
	for _, item := range s.Items {
		total += item.UnitAmount * item.Quantity
	}
	return total
}

// Server is an httptest server answering /v1/checkout/sessions.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	sessions  map[string]Session
	created   []url.Values
	gets      int
	linePages int
	failWith  int
	failLines int
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{sessions: make(map[string]Session)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/checkout/sessions", s.handleCreate)
	mux.HandleFunc("GET /v1/checkout/sessions/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/checkout/sessions/{id}/line_items", s.handleLineItems)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Config points a client at the fake server with retries disabled.
func (s *Server) Config() config.StripeConfig {
	return config.StripeConfig{
		SecretKey:     SecretKey,
		WebhookSecret: WebhookSecret,
		APIURL:        s.URL,
		MaxRetries:    0,
	}
}

func (s *Server) AddSession(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// FailWith makes every following request answer with status.
func (s *Server) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// FailLineItemsWith makes line item list requests answer with status.
func (s *Server) FailLineItemsWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLines = status
}

// Created returns the form bodies of every session creation request.
func (s *Server) Created() []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]url.Values(nil), s.created...)
}

// Gets counts session lookups.
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// LinePages counts line item list requests.
func (s *Server) LinePages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linePages
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "parameter_invalid", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != 0 {
		writeError(w, s.failWith, "", "rejected by fake server")
		return
	}
	if r.PostForm.Get("line_items[0][quantity]") == "" {
		writeError(w, http.StatusBadRequest, "parameter_missing", "Missing required param: line_items.")
		return
	}

	s.created = append(s.created, r.PostForm)
	id := fmt.Sprintf("cs_test_%d", len(s.created))
	s.sessions[id] = Session{ID: id, PaymentStatus: "unpaid", UserID: r.PostForm.Get("client_reference_id")}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             id,
		"object":         "checkout.session",
		"url":            "https://checkout.example.test/pay/" + id,
		"payment_status": "unpaid",
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.failWith != 0 {
		writeError(w, s.failWith, "", "rejected by fake server")
		return
	}

	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "resource_missing", "No such checkout.session: '"+r.PathValue("id")+"'")
		return
	}
	writeJSON(w, http.StatusOK, SessionObject(sess))
}

// handleLineItems pages through a session's items using starting_after and limit.
func (s *Server) handleLineItems(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linePages++
	if status := max(s.failWith, s.failLines); status != 0 {
		writeError(w, status, "", "rejected by fake server")
		return
	}

	sess, ok := s.sessions[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "resource_missing", "No such checkout.session: '"+r.PathValue("id")+"'")
		return
	}

	start := 0
	if after := r.URL.Query().Get("starting_after"); after != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(after, "li_"))
		if err != nil || n < 1 || n > len(sess.Items) {
			writeError(w, http.StatusBadRequest, "parameter_invalid", "invalid starting_after: "+after)
			return
		}
		start = n
	}
	limit := sess.PageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && (limit == 0 || l < limit) {
		limit = l
	}

	data, hasMore := lineItemPage(sess, start, limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"object":   "list",
		"data":     data,
		"has_more": hasMore,
		"url":      "/v1/checkout/sessions/" + sess.ID + "/line_items",
	})
}

func lineItemPage(sess Session, start, limit int) ([]map[string]any, bool) {
	end := len(sess.Items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := make([]map[string]any, 0, end-start)
	for i := start; i < end; i++ {
		page = append(page, lineItemObject(i, sess.Items[i]))
	}
	return page, end < len(sess.Items)
}

func lineItemObject(i int, item Item) map[string]any {
	return map[string]any{
		"id":           fmt.Sprintf("li_%d", i+1),
		"object":       "item",
		"description":  item.Name,
		"quantity":     item.Quantity,
		"amount_total": item.UnitAmount * item.Quantity,
		"price": map[string]any{
			"id":          fmt.Sprintf("price_%d", i+1),
			"object":      "price",
			"unit_amount": item.UnitAmount,
			"product": map[string]any{
				"id":       fmt.Sprintf("prod_%d", i+1),
				"object":   "product",
				"name":     item.Name,
				"metadata": map[string]string{"product_id": item.ProductID},
			},
		},
	}
}

// SessionObject renders sess the way the provider does with line items and products expanded.
func SessionObject(sess Session) map[string]any {
	lineItems, hasMore := lineItemPage(sess, 0, sess.PageSize)

	obj := map[string]any{
		"id":                  sess.ID,
		"object":              "checkout.session",
		"payment_status":      sess.PaymentStatus,
		"amount_total":        sess.amountTotal(),
		"currency":            "usd",
		"client_reference_id": sess.UserID,
		"metadata":            map[string]string{},
		"line_items": map[string]any{
			"object":   "list",
			"data":     lineItems,
			"has_more": hasMore,
			"url":      "/v1/checkout/sessions/" + sess.ID + "/line_items",
		},
	}
	if sess.UserID == "" {
		obj["client_reference_id"] = nil
	}
	if sess.Email != "" {
		obj["customer_details"] = map[string]any{
			"email": sess.Email,
			"name":  "Jordan Trail",
			"address": map[string]any{
				"line1":       "12 Ridge Rd",
				"city":        "Moab",
				"state":       "UT",
				"postal_code": "84532",
				"country":     "US",
			},
		}
	}
	return obj
}

// SignedEvent builds a checkout session event for sess and signs it with secret. It returns the
// body and the signature header value.
func SignedEvent(t testing.TB, secret, eventID, eventType string, sess Session) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": SessionObject(sess)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	errType := "invalid_request_error"
	if status >= 500 {
		errType = "api_error"
	}
	body := map[string]any{"type": errType, "message": message}
	if code != "" {
		body["code"] = code
	}
	if strings.TrimSpace(message) == "" {
		body["message"] = http.StatusText(status)
	}
	writeJSON(w, status, map[string]any{"error": body})
}
