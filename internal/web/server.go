package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kfund-labs/uniliq/internal/fund"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/positions"
	"github.com/kfund-labs/uniliq/internal/types"
	"github.com/kfund-labs/uniliq/internal/utils"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes read-only fund accounting and position data over HTTP.
type WebServer struct {
	router *mux.Router
	port   string
	fund   *fund.Fund
	mgr    *positions.Manager
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, f *fund.Fund, mgr *positions.Manager) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		fund:   f,
		mgr:    mgr,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/nav", ws.handleGetNav).Methods("GET")
	api.HandleFunc("/positions", ws.handleGetPositions).Methods("GET")
	api.HandleFunc("/fees", ws.handleGetFees).Methods("GET")
	api.HandleFunc("/underlyings", ws.handleGetUnderlyings).Methods("GET")

	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "OK",
		"fund":      ws.fund.Symbol(),
		"timestamp": time.Now().UTC(),
	})
}

// handleGetNav reports the fund's share supply, asset value and per-share
// net value.
func (ws *WebServer) handleGetNav(w http.ResponseWriter, r *http.Request) {
	assets, err := ws.mgr.Assets()
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to value holdings: "+err.Error())
		return
	}
	deployed, err := ws.mgr.LiquidityAssets()
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to value liquidity: "+err.Error())
		return
	}
	net, err := ws.fund.GlobalNetValue()
	if err != nil {
		ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to compute net value: "+err.Error())
		return
	}

	response := map[string]interface{}{
		"name":             ws.fund.Name(),
		"symbol":           ws.fund.Symbol(),
		"total_supply":     ws.fund.TotalSupply().String(),
		"total_assets":     assets.String(),
		"idle_assets":      ws.mgr.IdleAssets().String(),
		"liquidity_assets": deployed.String(),
		"net_value":        net.String(),
		"cap":              ws.fund.Cap().String(),
	}
	if display, err := utils.SDKIntToFloat64(net, 18); err == nil {
		response["net_value_display"] = display
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.mgr.WorksPos())
}

func (ws *WebServer) handleGetFees(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]types.FeeSetting, types.FeeKindCount)
	for kind := types.FeeEntry; kind.Valid(); kind++ {
		setting, err := ws.fund.GetFee(kind)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusInternalServerError, "failed to read fee "+strconv.Itoa(int(kind)))
			return
		}
		out[kind.String()] = setting
	}
	ws.writeJSONResponse(w, http.StatusOK, out)
}

func (ws *WebServer) handleGetUnderlyings(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.mgr.Underlyings())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
