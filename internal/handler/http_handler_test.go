package handler

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-market/internal/database"
	"virtual-market/internal/domain"
	"virtual-market/internal/logging"
	"virtual-market/internal/metrics"
	"virtual-market/internal/notify"
	"virtual-market/internal/repo"
	"virtual-market/internal/service"
)

const dashboardOrigin = "http://dashboard.test"

type testEnv struct {
	router     *gin.Engine
	hub        *notify.Hub
	dispatcher *notify.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	m := metrics.New(prometheus.NewRegistry())
	hub := notify.NewHub(log, m)
	dispatcher := notify.NewDispatcher(log, notify.DispatcherOptions{Observer: m}, hub)
	t.Cleanup(dispatcher.Close)

	orders := service.NewOrderService(repo.NewMemoryOrderRepo(), dispatcher, log, service.Options{
		DeliveryWindow: 2 * time.Hour,
		Recorder:       m,
	})
	push := notify.NewPushRegistry(notify.NewMemorySubscriptionStore(), &notify.VAPIDSender{}, log)

	router := NewRouter(Deps{
		Orders:         orders,
		Push:           push,
		Hub:            hub,
		Health:         database.NewMemory(),
		Metrics:        m,
		Log:            log,
		AllowedOrigins: []string{dashboardOrigin},
	})
	return &testEnv{router: router, hub: hub, dispatcher: dispatcher}
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validOrder() map[string]any {
	return map[string]any{
		"customerName":  "Ana",
		"phone":         "+37499000000",
		"email":         "ana@example.com",
		"address":       "Yerevan",
		"paymentMethod": "cash",
		"items": []map[string]any{
			{"name": "Milk", "price": 1000, "quantity": 2},
		},
	}
}

func (e *testEnv) createOrder(t *testing.T) CreateOrderResponse {
	t.Helper()
	w := e.do(http.MethodPost, "/api/orders", validOrder())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateOrder(t *testing.T) {
	env := newTestEnv(t)
	resp := env.createOrder(t)
	assert.True(t, resp.Success)
	assert.NotEqual(t, uuid.Nil, resp.OrderID)
	assert.True(t, strings.HasPrefix(resp.OrderNumber, "ORD-"))

	w := env.do(http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, float64(2000), orders[0]["total"])
	assert.Equal(t, "new", orders[0]["status"])
}

func TestCreateOrder_ValidationError(t *testing.T) {
	env := newTestEnv(t)
	body := validOrder()
	delete(body, "phone")
	body["items"] = []map[string]any{}

	w := env.do(http.MethodPost, "/api/orders", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Fields, "phone")
	assert.Contains(t, resp.Fields, "items")

	w = env.do(http.MethodGet, "/api/orders", nil)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestCreateOrder_BlankNameIsValidationError(t *testing.T) {
	env := newTestEnv(t)
	body := validOrder()
	body["customerName"] = "   "

	w := env.do(http.MethodPost, "/api/orders", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"customerName"}, resp.Fields)
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListOrders_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t)
	env.createOrder(t)

	first := env.do(http.MethodGet, "/api/orders", nil).Body.String()
	second := env.do(http.MethodGet, "/api/orders", nil).Body.String()
	assert.JSONEq(t, first, second)
}

func TestTrackOrder(t *testing.T) {
	env := newTestEnv(t)
	created := env.createOrder(t)

	w := env.do(http.MethodGet, "/api/orders/track/"+created.OrderNumber, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "ana@example.com")
	assert.Contains(t, w.Body.String(), created.OrderNumber)

	w = env.do(http.MethodGet, "/api/orders/track/ORD-0-0", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	created := env.createOrder(t)
	path := "/api/orders/" + created.OrderID.String() + "/status"

	w := env.do(http.MethodPost, path, UpdateStatusRequest{Status: "processing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var order map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "processing", order["status"])
	assert.NotEmpty(t, order["acceptedAt"])
	assert.NotEmpty(t, order["estimatedDelivery"])

	w = env.do(http.MethodPost, path, UpdateStatusRequest{Status: "new"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(http.MethodPost, path, UpdateStatusRequest{Status: "teleported"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/orders/"+uuid.NewString()+"/status", UpdateStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/orders/not-a-uuid/status", UpdateStatusRequest{Status: "processing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAccept(t *testing.T) {
	env := newTestEnv(t)
	created := env.createOrder(t)

	w := env.do(http.MethodPost, "/api/orders/"+created.OrderID.String()+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Success bool         `json:"success"`
		Order   domain.Order `json:"order"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, domain.StatusProcessing, resp.Order.Status)
	require.NotNil(t, resp.Order.AcceptedAt)

	w = env.do(http.MethodPost, "/api/orders/"+created.OrderID.String()+"/accept", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	a := env.createOrder(t)
	env.createOrder(t)
	env.do(http.MethodPost, "/api/orders/"+a.OrderID.String()+"/accept", nil)

	w := env.do(http.MethodGet, "/api/orders/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, float64(1), stats["new"])
	assert.Equal(t, float64(1), stats["processing"])
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)
	body := map[string]any{
		"deviceId": "device-1",
		"subscription": map[string]any{
			"endpoint": "https://push.example.com/abc",
			"keys":     map[string]string{"p256dh": "p", "auth": "a"},
		},
	}
	w := env.do(http.MethodPost, "/subscribe", body)
	assert.Equal(t, http.StatusCreated, w.Code)

	delete(body, "deviceId")
	w = env.do(http.MethodPost, "/subscribe", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"up"`)

	env.createOrder(t)
	w = env.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "supermarket_orders_created_total 1")
}

func TestCORS_RejectsUnknownOrigin(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Origin", "http://evil.test")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Origin", dashboardOrigin)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dashboardOrigin, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEvents_StreamsNewOrders(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", dashboardOrigin)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan [2]string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		var name string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				events <- [2]string{name, strings.TrimPrefix(line, "data:")}
			}
		}
		close(events)
	}()

	ready := <-events
	require.Equal(t, "ready", ready[0])

	created := env.createOrder(t)

	select {
	case evt := <-events:
		require.Equal(t, "newOrder", evt[0])
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(evt[1]), &payload))
		assert.Equal(t, "NEW_ORDER", payload["type"])
		order := payload["order"].(map[string]any)
		assert.Equal(t, created.OrderNumber, order["orderNumber"])
	case <-time.After(3 * time.Second):
		t.Fatal("no newOrder event received")
	}
}

func TestEvents_RejectsUnknownOrigin(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.Header.Set("Origin", "http://evil.test")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, env.hub.Count())
}
