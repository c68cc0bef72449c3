package storefront_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/storefront-core/cart"
	"github.com/yashrajoria/storefront-core/config"
	"github.com/yashrajoria/storefront-core/models"
	"github.com/yashrajoria/storefront-core/storefront"
)

// ---- fake commerce backend ----

type fakeShop struct {
	mu       sync.Mutex
	lines    map[string]int
	viewer   *models.User
	orders   []models.CheckoutInput
	sessions []string
}

func (s *fakeShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, r.Header.Get("woocommerce-session"))

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/cart":
		s.writeCart(w)
	case r.Method == http.MethodPost && r.URL.Path == "/cart/items":
		var req struct {
			Ops []models.LineOp `json:"ops"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, op := range req.Ops {
			switch op.Kind {
			case models.LineOpAdd:
				s.lines[op.Key.ProductID] += op.Quantity
			case models.LineOpSetQuantity:
				s.lines[op.Key.ProductID] = op.Quantity
			}
			if op.Kind == models.LineOpRemove || s.lines[op.Key.ProductID] == 0 {
				delete(s.lines, op.Key.ProductID)
			}
		}
		w.Header().Set("woocommerce-session", "sess-1")
		s.writeCart(w)
	case r.Method == http.MethodGet && r.URL.Path == "/viewer":
		writeData(w, map[string]interface{}{"viewer": s.viewer})
	case r.Method == http.MethodPost && r.URL.Path == "/checkout":
		var input models.CheckoutInput
		_ = json.NewDecoder(r.Body).Decode(&input)
		s.orders = append(s.orders, input)
		s.lines = map[string]int{}
		writeData(w, map[string]interface{}{"order": models.Order{
			ID: fmt.Sprintf("order-%d", len(s.orders)), Number: "1001", Status: "processing",
		}})
	default:
		http.NotFound(w, r)
	}
}

func (s *fakeShop) writeCart(w http.ResponseWriter) {
	ids := make([]string, 0, len(s.lines))
	for id := range s.lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := []map[string]interface{}{}
	count := 0
	for _, id := range ids {
		count += s.lines[id]
		items = append(items, map[string]interface{}{
			"key": "k" + id, "product_id": id, "quantity": s.lines[id], "name": "Item " + id,
		})
	}
	writeData(w, map[string]interface{}{"cart": map[string]interface{}{
		"item_count": count, "items": items, "total": fmt.Sprintf("$%d.00", count*10),
	}})
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// ---- fixtures ----

func testConfig(backendURL string) *config.Config {
	return &config.Config{
		BackendURL:             backendURL,
		ProfileID:              "p1",
		SessionBackend:         config.SessionBackendMemory,
		CartCacheTTL:           time.Hour,
		RefreshAttempts:        2,
		LoginPath:              "/login",
		GatewayRateLimit:       1000,
		GatewayBurst:           1000,
		GatewayBreakerFailures: 5,
	}
}

func newStorefront(t *testing.T, shop *fakeShop, opts ...storefront.Option) (*storefront.Storefront, *redis.Client) {
	t.Helper()
	srv := httptest.NewServer(shop)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sf, err := storefront.New(testConfig(srv.URL), append([]storefront.Option{storefront.WithRedis(client)}, opts...)...)
	require.NoError(t, err)
	return sf, client
}

func router(sf *storefront.Storefront) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	storefront.RegisterRoutes(r, sf)
	return r
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- tests ----

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := storefront.New(&config.Config{})
	assert.Error(t, err)
}

func TestNewCheckout_RequiresInit(t *testing.T) {
	sf, _ := newStorefront(t, &fakeShop{lines: map[string]int{}})
	_, err := sf.NewCheckout()
	assert.ErrorIs(t, err, storefront.ErrNotInitialized)
	assert.ErrorIs(t, sf.Logout(context.Background()), storefront.ErrNotInitialized)
}

func TestInit_RestoresCacheThenRefreshes(t *testing.T) {
	ctx := context.Background()
	shop := &fakeShop{lines: map[string]int{"10": 1}}
	sf, client := newStorefront(t, shop)

	cache := cart.NewRedisCache(client, "p1", time.Hour)
	require.NoError(t, cache.Set(ctx, models.CartSnapshot{Items: []models.CartLineItem{{Key: models.LineKey{ProductID: "99"}, Quantity: 3}}}))

	require.NoError(t, sf.Init(ctx))
	defer sf.Dispose()

	st := sf.Cart().State()
	assert.False(t, st.Stale)
	require.Len(t, st.Snapshot.Items, 1)
	assert.Equal(t, "10", st.Snapshot.Items[0].Key.ProductID)

	cached, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, st.Snapshot.Items, cached.Items)
}

func TestCartEndpoints_MutateCapturesSession(t *testing.T) {
	shop := &fakeShop{lines: map[string]int{}}
	sf, _ := newStorefront(t, shop)
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()
	r := router(sf)

	w := do(r, http.MethodPost, "/bff/cart/items", map[string]interface{}{
		"ops": []models.LineOp{models.AddLine(models.LineKey{ProductID: "10"}, 2)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Cart         models.CartSnapshot `json:"cart"`
		StaleWarning bool                `json:"stale_warning"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.StaleWarning)
	require.Len(t, resp.Cart.Items, 1)
	assert.Equal(t, 2, resp.Cart.Items[0].Quantity)

	tok, ok := sf.Sessions().Get(context.Background())
	require.True(t, ok)
	assert.Equal(t, "sess-1", tok)

	shop.mu.Lock()
	last := shop.sessions[len(shop.sessions)-1]
	shop.mu.Unlock()
	assert.Equal(t, "Session sess-1", last)

	w = do(r, http.MethodPost, "/bff/cart/items", map[string]interface{}{"ops": []models.LineOp{}})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCheckoutEndpoints_RedirectGuest(t *testing.T) {
	sf, _ := newStorefront(t, &fakeShop{lines: map[string]int{}, viewer: &models.User{ID: models.GuestUserID}})
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()

	w := do(router(sf), http.MethodGet, "/bff/checkout", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fbff%2Fcheckout", w.Header().Get("Location"))
}

func TestCheckoutEndpoints_BankTransferCompletes(t *testing.T) {
	shop := &fakeShop{lines: map[string]int{"10": 1}, viewer: &models.User{ID: "u-1", Email: "ada@example.com"}}
	sf, _ := newStorefront(t, shop)
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()
	r := router(sf)

	draft := models.CheckoutDraft{
		Billing: models.Address{
			FirstName: "Ada", LastName: "Lovelace", Address1: "1 Analytical St", City: "London",
			Postcode: "N1 9GU", Country: "GB", Email: "ada@example.com",
		},
		PaymentMethodID: "bacs",
		TermsAccepted:   true,
	}
	w := do(r, http.MethodPost, "/bff/checkout", draft)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view struct {
		State     string        `json:"state"`
		RequestID string        `json:"request_id"`
		Order     *models.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "completed", view.State)
	assert.Equal(t, "order-1", view.Order.ID)

	shop.mu.Lock()
	require.Len(t, shop.orders, 1)
	assert.Equal(t, view.RequestID, shop.orders[0].ClientMutationID)
	shop.mu.Unlock()

	assert.True(t, sf.Cart().Snapshot().IsEmpty())

	w = do(r, http.MethodPost, "/bff/checkout/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCheckoutEndpoints_ValidationIs422(t *testing.T) {
	sf, _ := newStorefront(t, &fakeShop{lines: map[string]int{}, viewer: &models.User{ID: "u-1"}})
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()

	w := do(router(sf), http.MethodPost, "/bff/checkout", models.CheckoutDraft{PaymentMethodID: "bacs"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "terms_accepted")
}

func TestLogout_ClearsSessionAndCart(t *testing.T) {
	ctx := context.Background()
	shop := &fakeShop{lines: map[string]int{"10": 1}}
	sf, client := newStorefront(t, shop)
	require.NoError(t, sf.Init(ctx))
	defer sf.Dispose()
	require.NoError(t, sf.Sessions().Set(ctx, "sess-9"))

	w := do(router(sf), http.MethodPost, "/bff/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, ok := sf.Sessions().Get(ctx)
	assert.False(t, ok)
	assert.True(t, sf.Cart().Snapshot().IsEmpty())
	_, err := cart.NewRedisCache(client, "p1", time.Hour).Get(ctx)
	assert.ErrorIs(t, err, cart.ErrCacheMiss)
}

func TestPaymentMethods_DropCardWithoutProcessor(t *testing.T) {
	sf, _ := newStorefront(t, &fakeShop{lines: map[string]int{}})
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()

	w := do(router(sf), http.MethodGet, "/bff/payment-methods?ids=bacs,stripe,paypal", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"methods":[
		{"id":"bacs","kind":"bank_transfer","requires_gateway":false},
		{"id":"paypal","kind":"other_gateway","requires_gateway":false}]}`, w.Body.String())
}

func bankTransferDraft() models.CheckoutDraft {
	return models.CheckoutDraft{
		Billing: models.Address{
			FirstName: "Ada", LastName: "Lovelace", Address1: "1 Analytical St", City: "London",
			Postcode: "N1 9GU", Country: "GB", Email: "ada@example.com",
		},
		PaymentMethodID: "bacs",
		TermsAccepted:   true,
	}
}

type viewBody struct {
	State     string        `json:"state"`
	RequestID string        `json:"request_id"`
	Order     *models.Order `json:"order"`
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestCheckoutEndpoints_SecondOrderAfterCompletion(t *testing.T) {
	shop := &fakeShop{lines: map[string]int{"10": 1}, viewer: &models.User{ID: "u-1", Email: "ada@example.com"}}
	sf, _ := newStorefront(t, shop)
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()
	r := router(sf)

	w := do(r, http.MethodPost, "/bff/checkout", bankTransferDraft())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeView(t, w)
	assert.Equal(t, "completed", first.State)

	// the confirmation stays readable until the next order starts
	w = do(r, http.MethodGet, "/bff/checkout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", decodeView(t, w).State)

	w = do(r, http.MethodPost, "/bff/cart/items", map[string]interface{}{
		"ops": []models.LineOp{models.AddLine(models.LineKey{ProductID: "11"}, 1)},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(r, http.MethodPost, "/bff/checkout", bankTransferDraft())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	second := decodeView(t, w)
	assert.Equal(t, "completed", second.State)
	assert.Equal(t, "order-2", second.Order.ID)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	shop.mu.Lock()
	defer shop.mu.Unlock()
	require.Len(t, shop.orders, 2)
	assert.NotEqual(t, shop.orders[0].ClientMutationID, shop.orders[1].ClientMutationID)
}

func TestCheckoutEndpoints_ResetAfterCompletionOpensNextCheckout(t *testing.T) {
	shop := &fakeShop{lines: map[string]int{"10": 1}, viewer: &models.User{ID: "u-1"}}
	sf, _ := newStorefront(t, shop)
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()
	r := router(sf)

	w := do(r, http.MethodPost, "/bff/checkout", bankTransferDraft())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decodeView(t, w)

	w = do(r, http.MethodPost, "/bff/checkout/reset", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	next := decodeView(t, w)
	assert.Equal(t, "idle", next.State)
	assert.NotEqual(t, done.RequestID, next.RequestID)
}

func TestLogout_DropsCheckout(t *testing.T) {
	shop := &fakeShop{lines: map[string]int{"10": 1}, viewer: &models.User{ID: "u-1"}}
	sf, _ := newStorefront(t, shop)
	require.NoError(t, sf.Init(context.Background()))
	defer sf.Dispose()
	r := router(sf)

	w := do(r, http.MethodPost, "/bff/checkout", bankTransferDraft())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	before := decodeView(t, w)

	require.NoError(t, sf.Logout(context.Background()))

	o, err := sf.Checkout()
	require.NoError(t, err)
	assert.Equal(t, "idle", string(o.View().State))
	assert.NotEqual(t, before.RequestID, o.View().RequestID)
}
