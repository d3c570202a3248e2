package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"checkout-service/cache"
	"checkout-service/gateways"
	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"
	"checkout-service/repository"
	"checkout-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ---- in-memory order repository ----

type memOrderRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*models.Order
	taken     map[string]bool
	createErr error
	findErr   error
	creates   int
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: map[uuid.UUID]*models.Order{}, taken: map[string]bool{}}
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.OrderItem(nil), o.Items...)
	c.StatusHistory = append([]models.OrderStatusHistory(nil), o.StatusHistory...)
	return &c
}

func (r *memOrderRepo) Create(_ context.Context, order *models.Order, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.creates++
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	for i := range order.StatusHistory {
		order.StatusHistory[i].OrderID = order.ID
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *memOrderRepo) OrderNumberExists(_ context.Context, orderNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken[orderNumber] {
		return true, nil
	}
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r *memOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneOrder(o), nil
}

func (r *memOrderRepo) FindByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return cloneOrder(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) List(_ context.Context, f repository.ListFilter) ([]models.Order, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if f.UserID != nil && (o.UserID == nil || *o.UserID != *f.UserID) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	return out, int64(len(out)), nil
}

func (r *memOrderRepo) UpdateByID(_ context.Context, id uuid.UUID, fn repository.MutateFunc) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.apply(o, fn)
}

func (r *memOrderRepo) UpdateByOrderNumber(_ context.Context, orderNumber string, fn repository.MutateFunc) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderNumber == orderNumber {
			return r.apply(o, fn)
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memOrderRepo) apply(stored *models.Order, fn repository.MutateFunc) (*models.Order, error) {
	work := cloneOrder(stored)
	m, err := fn(work)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return cloneOrder(stored), nil
	}
	if m.History != nil {
		h := *m.History
		h.OrderID = work.ID
		h.CreatedAt = time.Now()
		work.StatusHistory = append(work.StatusHistory, h)
	}
	r.orders[work.ID] = work
	return cloneOrder(work), nil
}

// get returns the stored order for assertions.
func (r *memOrderRepo) get(id uuid.UUID) *models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneOrder(r.orders[id])
}

// ---- catalog ----

type memCatalog struct {
	products map[uuid.UUID]models.Product
	coupons  map[string]*models.Coupon
}

func (c *memCatalog) FindActiveByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var out []models.Product
	for _, id := range ids {
		if p, ok := c.products[id]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *memCatalog) FindByCode(_ context.Context, code string) (*models.Coupon, error) {
	if cp, ok := c.coupons[strings.ToUpper(strings.TrimSpace(code))]; ok {
		copied := *cp
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ---- SNS ----

type fakeSNS struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (f *fakeSNS) Publish(_ context.Context, _ string, message []byte, _ map[string]string) error {
	var evt models.OrderEvent
	if err := json.Unmarshal(message, &evt); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeSNS) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

// ---- idempotency & replay guard ----

type memIdempotency struct {
	keys map[string]string
}

func (m *memIdempotency) GetOrderID(_ context.Context, scope, key string) (string, error) {
	if id, ok := m.keys[scope+"|"+key]; ok {
		return id, nil
	}
	return "", cache.ErrCacheMiss
}

func (m *memIdempotency) PutOrderID(_ context.Context, scope, key, orderID string) error {
	if _, ok := m.keys[scope+"|"+key]; !ok {
		m.keys[scope+"|"+key] = orderID
	}
	return nil
}

type memDeduper struct {
	seen map[string]bool
}

func (m *memDeduper) WebhookSeen(_ context.Context, gateway string, body []byte) (bool, error) {
	return m.seen[gateway+"|"+string(body)], nil
}

func (m *memDeduper) MarkWebhookProcessed(_ context.Context, gateway string, body []byte) error {
	m.seen[gateway+"|"+string(body)] = true
	return nil
}

// ---- gateway ----

type fakeGateway struct {
	id         string
	result     *gateways.PaymentResult
	createErr  error
	validSig   bool
	event      *gateways.CallbackEvent
	parseErr   error
	requests   []gateways.PaymentRequest
	verifyResp gateways.VerificationResult
	verifies   int
}

func (g *fakeGateway) ID() string { return g.id }

func (g *fakeGateway) CreatePayment(_ context.Context, req gateways.PaymentRequest) (*gateways.PaymentResult, error) {
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.result, nil
}

func (g *fakeGateway) VerifyCallback(_ []byte, _ http.Header) bool { return g.validSig }

func (g *fakeGateway) ParseCallback(_ []byte, _ http.Header) (*gateways.CallbackEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	return g.event, nil
}

// verifyingGateway adds status polling to fakeGateway.
type verifyingGateway struct {
	*fakeGateway
}

func (g verifyingGateway) VerifyPayment(_ context.Context, _ string) gateways.VerificationResult {
	g.verifies++
	return g.verifyResp
}

// ---- queue ----

type fakeQueue struct {
	bodies []string
	delays []time.Duration
	err    error
}

func (q *fakeQueue) SendDelayed(_ context.Context, body string, delay time.Duration) error {
	if q.err != nil {
		return q.err
	}
	q.bodies = append(q.bodies, body)
	q.delays = append(q.delays, delay)
	return nil
}

func (q *fakeQueue) messages() []models.PaymentVerificationMessage {
	out := make([]models.PaymentVerificationMessage, 0, len(q.bodies))
	for _, b := range q.bodies {
		var m models.PaymentVerificationMessage
		_ = json.Unmarshal([]byte(b), &m)
		out = append(out, m)
	}
	return out
}

// ---- harness ----

var (
	throwID   = uuid.MustParse("9b7e3c1a-1d2e-4f50-8a9b-0c1d2e3f4a5b")
	cushionID = uuid.MustParse("2f6a8c0e-3b4d-4e5f-9a0b-1c2d3e4f5a6b")
	candleID  = uuid.MustParse("4e5f6a7b-8c9d-4e0f-a1b2-c3d4e5f6a7b8")
	retiredID = uuid.MustParse("7c8d9e0f-1a2b-4c3d-8e4f-5a6b7c8d9e0f")
)

type harness struct {
	repo    *memOrderRepo
	catalog *memCatalog
	sns     *fakeSNS
	idem    *memIdempotency
	orders  services.OrderService
	logger  *zap.Logger
}

func newHarness() *harness {
	logger := zap.NewNop()
	maxDiscount := decimal.NewFromInt(50)
	past := time.Now().Add(-48 * time.Hour)
	catalog := &memCatalog{
		products: map[uuid.UUID]models.Product{
			throwID:   {ID: throwID, SKU: "LT-01", Name: "Linen Throw", Price: decimal.NewFromInt(200), IsActive: true},
			cushionID: {ID: cushionID, SKU: "CU-02", Name: "Velvet Cushion", Price: decimal.RequireFromString("99.99"), IsActive: true},
			candleID:  {ID: candleID, SKU: "CA-03", Name: "Soy Candle", Price: decimal.NewFromInt(100), IsActive: true},
			retiredID: {ID: retiredID, SKU: "OLD-1", Name: "Retired Vase", Price: decimal.NewFromInt(80), IsActive: false},
		},
		coupons: map[string]*models.Coupon{
			"SAVE50PCT": {Code: "SAVE50PCT", DiscountType: models.DiscountTypePercentage, DiscountValue: decimal.NewFromInt(50), MaxDiscount: &maxDiscount, IsActive: true},
			"FLAT20":    {Code: "FLAT20", DiscountType: models.DiscountTypeFixedAmount, DiscountValue: decimal.NewFromInt(20), IsActive: true},
			"OLDNEWS":   {Code: "OLDNEWS", DiscountType: models.DiscountTypeFixedAmount, DiscountValue: decimal.NewFromInt(20), EndDate: &past, IsActive: true},
			"USEDUP":    {Code: "USEDUP", DiscountType: models.DiscountTypeFixedAmount, DiscountValue: decimal.NewFromInt(20), UsageLimit: 3, UsageCount: 3, IsActive: true},
		},
	}
	h := &harness{
		repo:    newMemOrderRepo(),
		catalog: catalog,
		sns:     &fakeSNS{},
		idem:    &memIdempotency{keys: map[string]string{}},
		logger:  logger,
	}
	pricing := services.NewPricingEngine(catalog, catalog, services.PricingRules{
		FreeShippingThreshold: decimal.NewFromInt(500),
		FlatShippingFee:       decimal.NewFromInt(99),
		TaxRate:               decimal.RequireFromString("0.15"),
	}, logger)
	events := services.NewEventPublisher(h.sns, "arn:aws:sns:af-south-1:000000000000:orders", logger)
	h.orders = services.NewOrderService(h.repo, pricing, h.idem, events, awspkg.NoopMetrics{}, "KMB", logger)
	return h
}

func sampleRequest(lines ...services.CartLine) *services.CreateOrderRequest {
	return &services.CreateOrderRequest{
		Items:         lines,
		CustomerEmail: "thandi@example.co.za",
		ShippingAddress: services.AddressInput{
			FirstName:  "Thandi",
			LastName:   "van der Merwe",
			Phone:      "+27821234567",
			Address1:   "12 Long Street",
			City:       "Cape Town",
			Province:   "Western Cape",
			PostalCode: "8001",
		},
	}
}
