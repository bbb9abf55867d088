package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corbeau/nftmarket/internal/auth"
	"github.com/corbeau/nftmarket/internal/bank"
	"github.com/corbeau/nftmarket/internal/event"
	"github.com/corbeau/nftmarket/internal/market"
	"github.com/corbeau/nftmarket/internal/models"
	"github.com/corbeau/nftmarket/internal/nft"
	"github.com/corbeau/nftmarket/internal/store/memstore"
)

type apiFixture struct {
	router      *chi.Mux
	handler     *Handler
	marketplace models.Address
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mem := memstore.New()
	marketplace := models.NewAddress()
	assets := nft.NewDirectory(marketplace)
	wallet := bank.New()
	events := event.NewManager()
	engine := market.NewEngine(marketplace, mem, assets, wallet, events)
	authService := auth.NewAuthService(mem, "test-secret")

	handler := NewHandler(engine, authService, wallet, assets, true)
	return &apiFixture{router: handler.Router(), handler: handler, marketplace: marketplace}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

// registerAndLogin creates an account through the API and returns its
// bearer token and ledger address.
func (f *apiFixture) registerAndLogin(t *testing.T, username string) (string, models.Address) {
	t.Helper()

	w := f.do(t, "POST", "/auth/register", "", map[string]string{"username": username, "password": "testpass"})
	require.Equal(t, http.StatusCreated, w.Code)
	address := models.Address(decodeBody(t, w)["address"].(string))

	w = f.do(t, "POST", "/auth/login", "", map[string]string{"username": username, "password": "testpass"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decodeBody(t, w)["token"].(string)

	return token, address
}

// mintListedToken walks the dev endpoints so the seller ends up with a
// minted, approved token already listed at the given price.
func (f *apiFixture) mintListedToken(t *testing.T, sellerToken string, price uint64) (models.Address, uint64) {
	t.Helper()

	w := f.do(t, "POST", "/dev/collections", sellerToken, map[string]string{"name": "Dogs"})
	require.Equal(t, http.StatusCreated, w.Code)
	collection := models.Address(decodeBody(t, w)["address"].(string))

	w = f.do(t, "POST", "/dev/mint", sellerToken, map[string]interface{}{"collection": collection})
	require.Equal(t, http.StatusCreated, w.Code)
	tokenID := uint64(decodeBody(t, w)["token_id"].(float64))

	w = f.do(t, "POST", "/dev/approve", sellerToken, map[string]interface{}{"collection": collection, "token_id": tokenID})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, "POST", "/listings", sellerToken, map[string]interface{}{
		"collection": collection, "token_id": tokenID, "price": price,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	return collection, tokenID
}

func TestHandler_Register(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name           string
		requestBody    map[string]interface{}
		expectedStatus int
	}{
		{
			name:           "Success",
			requestBody:    map[string]interface{}{"username": "alice", "password": "testpass"},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Missing Password",
			requestBody:    map[string]interface{}{"username": "alice"},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Duplicate Username",
			requestBody:    map[string]interface{}{"username": "alice", "password": "otherpass"},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/auth/register", "", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusCreated {
				response := decodeBody(t, w)
				assert.Equal(t, "alice", response["username"])
				assert.NotEmpty(t, response["address"])
			}
		})
	}
}

func TestHandler_Login(t *testing.T) {
	f := newAPIFixture(t)
	f.registerAndLogin(t, "alice")

	w := f.do(t, "POST", "/auth/login", "", map[string]string{"username": "alice", "password": "wrongpass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "POST", "/auth/login", "", map[string]string{"username": "nobody", "password": "testpass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_RequiresToken(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, "GET", "/proceeds", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, "GET", "/proceeds", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_ListingLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	sellerToken, sellerAddr := f.registerAndLogin(t, "seller")
	collection, tokenID := f.mintListedToken(t, sellerToken, 100)

	path := "/listings/" + string(collection) + "/" + strconv.FormatUint(tokenID, 10)

	t.Run("get listing is public", func(t *testing.T) {
		w := f.do(t, "GET", path, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, sellerAddr, listing.Seller)
		assert.Equal(t, uint64(100), listing.Price)
		assert.Equal(t, tokenID, listing.TokenID)
	})

	t.Run("absent listing answers zero price", func(t *testing.T) {
		w := f.do(t, "GET", "/listings/"+string(collection)+"/999", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Zero(t, listing.Price)
		assert.True(t, listing.Seller.IsZero())
	})

	t.Run("double list conflicts", func(t *testing.T) {
		w := f.do(t, "POST", "/listings", sellerToken, map[string]interface{}{
			"collection": collection, "token_id": tokenID, "price": 200,
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "already_listed", decodeBody(t, w)["kind"])
	})

	t.Run("stranger cannot reprice or cancel", func(t *testing.T) {
		strangerToken, _ := f.registerAndLogin(t, "stranger")

		w := f.do(t, "PATCH", path, strangerToken, map[string]interface{}{"price": 50})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "not_owner", decodeBody(t, w)["kind"])

		w = f.do(t, "DELETE", path, strangerToken, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("zero reprice rejected", func(t *testing.T) {
		w := f.do(t, "PATCH", path, sellerToken, map[string]interface{}{"price": 0})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_price", decodeBody(t, w)["kind"])
	})

	t.Run("owner reprices then cancels", func(t *testing.T) {
		w := f.do(t, "PATCH", path, sellerToken, map[string]interface{}{"price": 250})
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, "GET", path, "", nil)
		var listing models.Listing
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
		assert.Equal(t, uint64(250), listing.Price)

		w = f.do(t, "DELETE", path, sellerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, "DELETE", path, sellerToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not_listed", decodeBody(t, w)["kind"])
	})
}

func TestHandler_BuyAndWithdraw(t *testing.T) {
	f := newAPIFixture(t)
	sellerToken, _ := f.registerAndLogin(t, "seller")
	buyerToken, buyerAddr := f.registerAndLogin(t, "buyer")
	collection, tokenID := f.mintListedToken(t, sellerToken, 100)

	w := f.do(t, "POST", "/dev/faucet", buyerToken, map[string]interface{}{"amount": 150})
	require.Equal(t, http.StatusOK, w.Code)

	buyPath := "/listings/" + string(collection) + "/" + strconv.FormatUint(tokenID, 10) + "/buy"

	t.Run("underpayment refunds wallet", func(t *testing.T) {
		w := f.do(t, "POST", buyPath, buyerToken, map[string]interface{}{"payment": 40})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "price_not_met", decodeBody(t, w)["kind"])

		w = f.do(t, "GET", "/wallet", buyerToken, nil)
		assert.Equal(t, float64(150), decodeBody(t, w)["balance"])
	})

	t.Run("wallet too small", func(t *testing.T) {
		w := f.do(t, "POST", buyPath, buyerToken, map[string]interface{}{"payment": 500})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, "insufficient_funds", decodeBody(t, w)["kind"])
	})

	t.Run("purchase settles", func(t *testing.T) {
		w := f.do(t, "POST", buyPath, buyerToken, map[string]interface{}{"payment": 100})
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, "GET", "/wallet", buyerToken, nil)
		assert.Equal(t, float64(50), decodeBody(t, w)["balance"])

		registry, ok := f.handler.Assets.Collection(collection)
		require.True(t, ok)
		owner, err := registry.OwnerOf(tokenID)
		require.NoError(t, err)
		assert.Equal(t, buyerAddr, owner)

		w = f.do(t, "POST", buyPath, buyerToken, map[string]interface{}{"payment": 100})
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = f.do(t, "GET", "/wallet", buyerToken, nil)
		assert.Equal(t, float64(50), decodeBody(t, w)["balance"])
	})

	t.Run("seller withdraws proceeds", func(t *testing.T) {
		w := f.do(t, "GET", "/proceeds", sellerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(100), decodeBody(t, w)["proceeds"])

		w = f.do(t, "POST", "/proceeds/withdraw", sellerToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(100), decodeBody(t, w)["withdrawn"])

		w = f.do(t, "GET", "/wallet", sellerToken, nil)
		assert.Equal(t, float64(100), decodeBody(t, w)["balance"])

		w = f.do(t, "POST", "/proceeds/withdraw", sellerToken, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "no_proceeds", decodeBody(t, w)["kind"])
	})
}

func TestHandler_ListWithoutApproval(t *testing.T) {
	f := newAPIFixture(t)
	sellerToken, _ := f.registerAndLogin(t, "seller")

	w := f.do(t, "POST", "/dev/collections", sellerToken, map[string]string{"name": "Cats"})
	require.Equal(t, http.StatusCreated, w.Code)
	collection := models.Address(decodeBody(t, w)["address"].(string))

	w = f.do(t, "POST", "/dev/mint", sellerToken, map[string]interface{}{"collection": collection})
	require.Equal(t, http.StatusCreated, w.Code)
	tokenID := uint64(decodeBody(t, w)["token_id"].(float64))

	w = f.do(t, "POST", "/listings", sellerToken, map[string]interface{}{
		"collection": collection, "token_id": tokenID, "price": 100,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_approved", decodeBody(t, w)["kind"])
}
