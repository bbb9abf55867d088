package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/corbeau/nftmarket/internal/auth"
	"github.com/corbeau/nftmarket/internal/bank"
	"github.com/corbeau/nftmarket/internal/market"
	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/nft"
)

type ctxKey string

const ctxAddress ctxKey = "address"

// Handler contains dependencies for HTTP handlers. The mutex serializes
// engine invocations: the ledger environment guarantees each operation
// runs to completion before the next begins, and that guarantee lives at
// the transport edge so collaborator callbacks inside an operation never
// contend with it.
type Handler struct {
	Engine      *market.Engine
	AuthService *auth.AuthService
	Bank        *bank.Bank
	Assets      *nft.Directory
	DevMode     bool

	mu sync.Mutex
}

// NewHandler creates a new handler.
func NewHandler(engine *market.Engine, authService *auth.AuthService, wallet *bank.Bank, assets *nft.Directory, devMode bool) *Handler {
	return &Handler{Engine: engine, AuthService: authService, Bank: wallet, Assets: assets, DevMode: devMode}
}

// Router assembles the full route table.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()

	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/listings/{collection}/{tokenID}", h.GetListing)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/listings", h.ListItem)
		r.Post("/listings/{collection}/{tokenID}/buy", h.BuyItem)
		r.Patch("/listings/{collection}/{tokenID}", h.UpdateListing)
		r.Delete("/listings/{collection}/{tokenID}", h.CancelListing)
		r.Get("/proceeds", h.GetProceeds)
		r.Post("/proceeds/withdraw", h.WithdrawProceeds)
		r.Get("/wallet", h.GetWallet)

		if h.DevMode {
			r.Post("/dev/collections", h.DevCreateCollection)
			r.Post("/dev/mint", h.DevMint)
			r.Post("/dev/approve", h.DevApprove)
			r.Post("/dev/faucet", h.DevFaucet)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps the engine's typed failures onto HTTP statuses and a
// stable machine-readable kind, so API callers can branch the same way
// in-process callers do with errors.As.
func writeError(w http.ResponseWriter, err error) {
	status, kind := http.StatusInternalServerError, "internal"
	switch {
	case errors.As(err, &market.NotListedError{}):
		status, kind = http.StatusNotFound, "not_listed"
	case errors.As(err, &market.AlreadyListedError{}):
		status, kind = http.StatusConflict, "already_listed"
	case errors.As(err, &market.NotOwnerError{}):
		status, kind = http.StatusForbidden, "not_owner"
	case errors.As(err, &market.NotApprovedError{}):
		status, kind = http.StatusForbidden, "not_approved"
	case errors.As(err, &market.InvalidPriceError{}):
		status, kind = http.StatusBadRequest, "invalid_price"
	case errors.As(err, &market.PriceNotMetError{}):
		status, kind = http.StatusPaymentRequired, "price_not_met"
	case errors.As(err, &market.NoProceedsError{}):
		status, kind = http.StatusConflict, "no_proceeds"
	case errors.Is(err, bank.ErrInsufficientFunds):
		status, kind = http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, nft.ErrUnknownCollection), errors.Is(err, nft.ErrUnknownToken):
		status, kind = http.StatusNotFound, "unknown_asset"
	case errors.Is(err, nft.ErrNotAuthorized):
		status, kind = http.StatusForbidden, "not_authorized"
	}
	if status == http.StatusInternalServerError {
		zap.L().With(zap.Error(err)).Error("api: internal error")
	}
	writeJSON(w, status, map[string]string{"kind": kind, "error": err.Error()})
}

func callerAddress(r *http.Request) (models.Address, bool) {
	address, ok := r.Context().Value(ctxAddress).(models.Address)
	return address, ok
}

func listingKeyParams(r *http.Request) (models.Address, uint64, error) {
	collection := models.Address(chi.URLParam(r, "collection"))
	tokenID, err := strconv.ParseUint(chi.URLParam(r, "tokenID"), 10, 64)
	if err != nil {
		return models.ZeroAddress, 0, err
	}
	return collection, tokenID, nil
}

// JWTAuthMiddleware verifies bearer tokens and stores the caller's ledger
// address.
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization header required"})
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		address, err := h.AuthService.AddressFromToken(tokenString)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired token"})
			return
		}

		ctx := context.WithValue(r.Context(), ctxAddress, address)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register handles account registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}
	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username and password required"})
		return
	}

	account, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Failed to register account"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       account.ID,
		"username": account.Username,
		"address":  account.Address,
	})
}

// Login handles account login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListItem puts an asset up for sale.
func (h *Handler) ListItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Collection models.Address `json:"collection"`
		TokenID    uint64         `json:"token_id"`
		Price      uint64         `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	h.mu.Lock()
	err := h.Engine.ListItem(r.Context(), caller, req.Collection, req.TokenID, req.Price)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "Item listed"})
}

// BuyItem settles a purchase. The attached payment is collected from the
// buyer's wallet up front and returned if the engine rejects the call.
func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	collection, tokenID, err := listingKeyParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid token ID"})
		return
	}

	var req struct {
		Payment uint64 `json:"payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Bank.Debit(caller, req.Payment); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Engine.BuyItem(r.Context(), caller, collection, tokenID, req.Payment); err != nil {
		// The purchase failed atomically; the attached payment goes back.
		if depErr := h.Bank.Deposit(caller, req.Payment); depErr != nil {
			zap.L().With(zap.Error(depErr)).Error("api: failed to return payment")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Item bought"})
}

// CancelListing removes the caller's active listing.
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	collection, tokenID, err := listingKeyParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid token ID"})
		return
	}

	h.mu.Lock()
	err = h.Engine.CancelListing(r.Context(), caller, collection, tokenID)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Listing cancelled"})
}

// UpdateListing reprices the caller's active listing.
func (h *Handler) UpdateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}
	collection, tokenID, err := listingKeyParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid token ID"})
		return
	}

	var req struct {
		Price uint64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	h.mu.Lock()
	err = h.Engine.UpdateListing(r.Context(), caller, collection, tokenID, req.Price)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Listing updated"})
}

// GetListing reads the current listing for a key. An absent key answers
// with the zero-price sentinel rather than an error.
func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	collection, tokenID, err := listingKeyParams(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid token ID"})
		return
	}

	h.mu.Lock()
	listing, ok, err := h.Engine.GetListing(r.Context(), collection, tokenID)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		listing = models.Listing{Collection: collection, TokenID: tokenID}
	}

	writeJSON(w, http.StatusOK, listing)
}

// GetProceeds reads the caller's withdrawable balance.
func (h *Handler) GetProceeds(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	h.mu.Lock()
	amount, err := h.Engine.GetProceeds(r.Context(), caller)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"proceeds": amount})
}

// WithdrawProceeds drains the caller's balance into their wallet.
func (h *Handler) WithdrawProceeds(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	h.mu.Lock()
	amount, err := h.Engine.WithdrawProceeds(r.Context(), caller)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"withdrawn": amount})
}

// GetWallet reads the caller's wallet balance.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"balance": h.Bank.Balance(caller)})
}

// DevCreateCollection deploys a fresh asset collection. Dev mode only.
func (h *Handler) DevCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Collection name required"})
		return
	}

	h.mu.Lock()
	registry := nft.NewRegistry(req.Name)
	h.Assets.Add(registry)
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":    registry.Name(),
		"address": registry.Address(),
	})
}

// DevMint mints a token to the caller. Dev mode only.
func (h *Handler) DevMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Collection models.Address `json:"collection"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	registry, ok := h.Assets.Collection(req.Collection)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown collection"})
		return
	}
	tokenID, err := registry.Mint(caller)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]uint64{"token_id": tokenID})
}

// DevApprove approves the marketplace to move the caller's token. Dev
// mode only.
func (h *Handler) DevApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Collection models.Address `json:"collection"`
		TokenID    uint64         `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	registry, ok := h.Assets.Collection(req.Collection)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown collection"})
		return
	}
	if err := registry.Approve(caller, h.Engine.Address(), req.TokenID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Marketplace approved"})
}

// DevFaucet credits the caller's wallet. Dev mode only.
func (h *Handler) DevFaucet(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerAddress(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Amount == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Amount required"})
		return
	}

	h.mu.Lock()
	err := h.Bank.Deposit(caller, req.Amount)
	h.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]uint64{"balance": h.Bank.Balance(caller)})
}
