package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/market-feed/cmd/gateway/internal/orderbook"
)

// Server maps the streaming channels onto registry subscriptions.
type Server struct {
	registry  *hub.Registry
	logger    *zap.Logger
	defaultID string
	gatherer  prometheus.Gatherer
}

func NewServer(registry *hub.Registry, logger *zap.Logger, defaultID string, gatherer prometheus.Gatherer) *Server {
	return &Server{registry: registry, logger: logger, defaultID: defaultID, gatherer: gatherer}
}

// Routes returns the HTTP handler. Unknown paths get a 404 before any
// upgrade is attempted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Route("/ws", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/orderbook", s.handleOrderbook)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("Rejected unknown path", zap.String("path", r.URL.Path))
		http.Error(w, "unknown channel", http.StatusNotFound)
	})
	return r
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := s.entityID(r)

	client, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	unsubscribe, err := s.registry.SubscribeHistory(id, client)
	if err != nil {
		s.logger.Warn("History subscribe failed", zap.String("id", id), zap.Error(err))
		client.Close()
		client.conn.Close()
		return
	}
	client.Start(unsubscribe)
	s.logger.Info("History stream opened", zap.String("id", id), zap.String("client", client.ID()))
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	id := s.entityID(r)
	params := hub.BookParams{
		Mid:   parseMid(r.URL.Query().Get("mid")),
		Token: strings.TrimSpace(r.URL.Query().Get("token")),
	}

	client, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	unsubscribe, err := s.registry.SubscribeBook(id, params, client)
	if err != nil {
		s.logger.Warn("Orderbook subscribe failed", zap.String("id", id), zap.Error(err))
		client.Close()
		client.conn.Close()
		return
	}
	client.Start(unsubscribe)
	s.logger.Info("Orderbook stream opened",
		zap.String("id", id),
		zap.String("client", client.ID()),
		zap.Bool("live", params.Token != ""))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	feeds, books := s.registry.Entities()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"feeds":          feeds,
		"books":          books,
		"active_tickers": s.registry.ActiveTickers(),
	})
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*ClientAdapter, bool) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("Upgrade failed", zap.Error(err))
		return nil, false
	}
	return NewClient(conn, s.logger), true
}

func (s *Server) entityID(r *http.Request) string {
	if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
		return id
	}
	return s.defaultID
}

// parseMid falls back to the default mid for missing or unparseable input.
func parseMid(raw string) float64 {
	if raw == "" {
		return orderbook.DefaultMid
	}
	mid, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return orderbook.DefaultMid
	}
	return orderbook.ClampMid(mid)
}
