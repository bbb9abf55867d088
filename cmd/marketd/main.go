package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/corbeau/nftmarket/internal/api"
	"github.com/corbeau/nftmarket/internal/auth"
	"github.com/corbeau/nftmarket/internal/bank"
	"github.com/corbeau/nftmarket/internal/config"
	"github.com/corbeau/nftmarket/internal/db"
	"github.com/corbeau/nftmarket/internal/event"
	"github.com/corbeau/nftmarket/internal/market"
	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/nft"
	"github.com/corbeau/nftmarket/internal/store"
	"github.com/corbeau/nftmarket/internal/store/memstore"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// broadcastEvent pushes a committed marketplace event to every connected
// websocket client.
func broadcastEvent(eventType event.Type, msg interface{}) {
	data, err := json.Marshal(struct {
		Type    event.Type  `json:"type"`
		Payload interface{} `json:"payload"`
	}{Type: eventType, Payload: msg})
	if err != nil {
		zap.L().With(zap.Error(err)).Error("Failed to marshal event")
		return
	}

	clientsMu.RLock()
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			zap.L().With(zap.Error(err)).Warn("Failed to send message")
			clientsMu.RUnlock()
			clientsMu.Lock()
			delete(clients, client)
			clientsMu.Unlock()
			clientsMu.RLock()
		}
	}
	clientsMu.RUnlock()
}

func handleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zap.L().With(zap.Error(err)).Warn("Failed to upgrade connection")
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: wires the ledger, asset registry, payment bank and
// HTTP server together.
func main() {
	config.Init()
	cfg := config.Get()
	ctx := context.Background()

	// Pick the ledger backing. Without a database URL the marketplace
	// runs on the in-memory ledger, which is enough for development.
	var ledger store.Ledger
	var accounts store.Accounts
	if cfg.DatabaseURL != "" {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			zap.L().With(zap.Error(err)).Fatal("Failed to connect to database")
		}
		defer database.Close()
		ledger, accounts = database, database
		zap.L().Info("Using postgres ledger")
	} else {
		mem := memstore.New()
		ledger, accounts = mem, mem
		zap.L().Info("Using in-memory ledger")
	}

	marketplace := models.NewAddress()
	assets := nft.NewDirectory(marketplace)
	wallet := bank.New()
	events := event.NewManager()
	engine := market.NewEngine(marketplace, ledger, assets, wallet, events)
	authService := auth.NewAuthService(accounts, cfg.JwtSecret)

	// Events reach websocket clients only after their transaction has
	// committed, so subscribers never observe rolled-back activity.
	events.SubscribeAll(broadcastEvent)

	handler := api.NewHandler(engine, authService, wallet, assets, cfg.DevMode)

	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket event feed
	r.Get("/ws", handleWebSocket())

	r.Mount("/", handler.Router())

	zap.L().
		With(zap.String("port", cfg.Port), zap.String("marketplace", marketplace.String())).
		Info("Starting marketd")
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		zap.L().With(zap.Error(err)).Fatal("Server failed")
	}
}
