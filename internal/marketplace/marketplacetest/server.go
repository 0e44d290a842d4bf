// Package marketplacetest provides an in-memory marketplace GraphQL server
// for tests.
package marketplacetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fairyhunter13/price-follower/internal/model"
)

// StockState is the server-side view of one of our offers.
type StockState struct {
	ProductID  uuid.UUID
	Amount     int64
	Quota      int
	NextFreeIn *int
}

// Update is a recorded price update.
type Update struct {
	OfferID string
	Amount  int64
}

// Server answers the marketplace operations from in-memory state.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	products      map[string]uuid.UUID
	listings      map[uuid.UUID][]model.Listing
	stocks        map[string]StockState
	rateLimit     map[string]int
	calls         map[string]int
	updates       []Update
	rejectUpdates bool
	// CommissionRate is applied by S_calculatePrice, e.g. 0.1 for 10%.
	CommissionRate float64
}

// New starts a Server. Callers must Close it.
func New() *Server {
	s := &Server{
		products:       make(map[string]uuid.UUID),
		listings:       make(map[uuid.UUID][]model.Listing),
		stocks:         make(map[string]StockState),
		rateLimit:      make(map[string]int),
		calls:          make(map[string]int),
		CommissionRate: 0.1,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddProduct registers a slug and returns its product id.
func (s *Server) AddProduct(slug string, listings ...model.Listing) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.products[slug] = id
	if listings != nil {
		s.listings[id] = listings
	}
	return id
}

// SetStock registers one of our offers.
func (s *Server) SetStock(id string, st StockState) {
	s.mu.Lock()
	s.stocks[id] = st
	s.mu.Unlock()
}

// RateLimit makes the next n calls of op fail with a rate-limit error.
func (s *Server) RateLimit(op string, n int) {
	s.mu.Lock()
	s.rateLimit[op] = n
	s.mu.Unlock()
}

// RejectUpdates makes price updates answer success=false.
func (s *Server) RejectUpdates(v bool) {
	s.mu.Lock()
	s.rejectUpdates = v
	s.mu.Unlock()
}

// Calls returns how many times op was requested.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of requests of any operation.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// Updates returns the recorded price updates.
func (s *Server) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

var ops = []string{"S_updateAuction", "S_calculatePrice", "S_competition", "S_stock", "S_products"}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	op := ""
	for _, o := range ops {
		if strings.Contains(req.Query, o) {
			op = o
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if s.rateLimit[op] > 0 {
		s.rateLimit[op]--
		writeJSON(w, map[string]any{
			"errors": []map[string]any{{"message": "Too many requests. Retry after 0"}},
			"data":   nil,
		})
		return
	}

	var data any
	switch op {
	case "S_products":
		data = s.productsLocked(req.Variables)
	case "S_competition":
		data = s.competitionLocked(req.Variables)
	case "S_calculatePrice":
		data = s.calculateLocked(req.Variables)
	case "S_stock":
		data = s.stockLocked(req.Variables)
	case "S_updateAuction":
		data = s.updateLocked(req.Variables)
	default:
		writeJSON(w, map[string]any{"errors": []map[string]any{{"message": "unknown operation"}}})
		return
	}
	writeJSON(w, map[string]any{"data": data})
}

func (s *Server) productsLocked(vars map[string]any) any {
	edges := []any{}
	for _, raw := range asSlice(vars["slugs"]) {
		slug, _ := raw.(string)
		if id, ok := s.products[slug]; ok {
			edges = append(edges, map[string]any{"node": map[string]any{
				"id": id.String(), "name": slug, "slug": slug, "isSellable": true,
			}})
		}
	}
	return map[string]any{"S_products": map[string]any{"edges": edges}}
}

func (s *Server) competitionLocked(vars map[string]any) any {
	out := []any{}
	for _, raw := range asSlice(vars["productIds"]) {
		str, _ := raw.(string)
		id, err := uuid.Parse(str)
		if err != nil {
			continue
		}
		listings, ok := s.listings[id]
		if !ok {
			continue
		}
		edges := make([]any, 0, len(listings))
		for _, l := range listings {
			edges = append(edges, map[string]any{"node": map[string]any{
				"isInStock":    l.InStock,
				"merchantName": l.Merchant,
				"belongsToYou": false,
				"price":        map[string]any{"amount": l.Amount, "currency": "EUR"},
			}})
		}
		out = append(out, map[string]any{
			"productId":   id.String(),
			"competition": map[string]any{"totalCount": len(edges), "edges": edges},
		})
	}
	return map[string]any{"S_competition": out}
}

func (s *Server) calculateLocked(vars map[string]any) any {
	input, _ := vars["input"].(map[string]any)
	price, _ := input["price"].(map[string]any)
	amount, _ := price["amount"].(float64)
	with := int64(amount * (1 + s.CommissionRate))
	return map[string]any{"S_calculatePrice": map[string]any{
		"priceWithCommission":    map[string]any{"amount": with, "currency": "EUR"},
		"priceWithoutCommission": map[string]any{"amount": int64(amount), "currency": "EUR"},
	}}
}

func (s *Server) stockLocked(vars map[string]any) any {
	id, _ := vars["stockId"].(string)
	st, ok := s.stocks[id]
	if !ok {
		return map[string]any{"S_stock": map[string]any{"edges": []any{}}}
	}
	var next any
	if st.NextFreeIn != nil {
		next = *st.NextFreeIn
	}
	node := map[string]any{
		"id":      id,
		"product": map[string]any{"id": st.ProductID.String(), "name": "product"},
		"price":   map[string]any{"amount": st.Amount, "currency": "EUR"},
		"priceUpdateQuota": map[string]any{
			"quota": st.Quota, "nextFreeIn": next, "totalFree": st.Quota,
		},
	}
	return map[string]any{"S_stock": map[string]any{"edges": []any{map[string]any{"node": node}}}}
}

func (s *Server) updateLocked(vars map[string]any) any {
	input, _ := vars["input"].(map[string]any)
	id, _ := input["id"].(string)
	price, _ := input["price"].(map[string]any)
	amount, _ := price["amount"].(float64)
	if s.rejectUpdates {
		return map[string]any{"S_updateAuction": map[string]any{"success": false, "actionId": nil}}
	}
	s.updates = append(s.updates, Update{OfferID: id, Amount: int64(amount)})
	if st, ok := s.stocks[id]; ok {
		st.Amount = int64(amount)
		if st.Quota > 0 {
			st.Quota--
		}
		s.stocks[id] = st
	}
	return map[string]any{"S_updateAuction": map[string]any{"success": true, "actionId": uuid.NewString()}}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
