package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lifedesk/lifedesk/app/models"
)

// memRepo is an in-memory Repository used across the store tests. It mirrors
// the lookup and upsert behavior of the GORM implementation, including
// gorm.ErrRecordNotFound on misses and gorm.ErrDuplicatedKey on order number
// collisions.
type memRepo struct {
	mu sync.Mutex

	users     map[uint]models.User
	customers map[uint]models.Customer
	products  map[string]models.Product
	prices    map[string]models.Price
	orders    map[string]models.Order
	items     map[string]models.OrderItem
	subs      map[string]models.Subscription
	events    map[string]models.StoreWebhookEvent

	nextCustomerID uint
	nextEventID    uint
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:     map[uint]models.User{},
		customers: map[uint]models.Customer{},
		products:  map[string]models.Product{},
		prices:    map[string]models.Price{},
		orders:    map[string]models.Order{},
		items:     map[string]models.OrderItem{},
		subs:      map[string]models.Subscription{},
		events:    map[string]models.StoreWebhookEvent{},
	}
}

func (r *memRepo) addUser(u models.User) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.ID] = u
	return u
}

func (r *memRepo) addProduct(p models.Product) models.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = p
	return p
}

func (r *memRepo) addPrice(p models.Price) models.Price {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	r.prices[p.ID] = p
	return p
}

func (r *memRepo) addOrder(o models.Order) models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	items := o.Items
	o.Items = nil
	r.orders[o.ID] = o
	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.OrderID = o.ID
		r.items[item.ID] = item
	}
	o.Items = items
	return o
}

func (r *memRepo) addSubscription(s models.Subscription) models.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	r.subs[s.ID] = s
	return s
}

func (r *memRepo) orderWithItems(o models.Order) *models.Order {
	o.Items = nil
	for _, item := range r.items {
		if item.OrderID != o.ID {
			continue
		}
		if price, ok := r.prices[item.PriceID]; ok {
			item.Price = price
		}
		if product, ok := r.products[item.ProductID]; ok {
			item.Product = product
		}
		o.Items = append(o.Items, item)
	}
	return &o
}

func (r *memRepo) GetOrCreateCustomer(userID uint) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.UserID == userID {
			c.User = r.users[userID]
			return &c, nil
		}
	}
	if _, ok := r.users[userID]; !ok {
		return nil, gorm.ErrRecordNotFound
	}
	r.nextCustomerID++
	c := models.Customer{ID: r.nextCustomerID, UserID: userID, User: r.users[userID]}
	r.customers[c.ID] = c
	return &c, nil
}

func (r *memRepo) GetCustomerByStripeID(stripeCustomerID string) (*models.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.customers {
		if c.StripeCustomerID != "" && c.StripeCustomerID == stripeCustomerID {
			c.User = r.users[c.UserID]
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetCustomerByEmail(email string) (*models.Customer, error) {
	r.mu.Lock()
	var userID uint
	found := false
	for _, u := range r.users {
		if u.Email == email {
			userID = u.ID
			found = true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return nil, gorm.ErrRecordNotFound
	}
	return r.GetOrCreateCustomer(userID)
}

func (r *memRepo) SaveCustomer(c *models.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	stored.User = models.User{}
	r.customers[c.ID] = stored
	return nil
}

func (r *memRepo) GetProduct(id string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (r *memRepo) GetProductByStripeID(stripeProductID string) (*models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.products {
		if p.StripeProductID != "" && p.StripeProductID == stripeProductID {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) SaveProduct(p *models.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = *p
	return nil
}

func (r *memRepo) ListProducts() ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, p := range r.products {
		out = append(out, p)
	}
	return out, nil
}

func (r *memRepo) GetPrice(id string) (*models.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.prices[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	p.Product = r.products[p.ProductID]
	return &p, nil
}

func (r *memRepo) GetPriceByStripeID(stripePriceID string) (*models.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.prices {
		if p.StripePriceID != "" && p.StripePriceID == stripePriceID {
			p.Product = r.products[p.ProductID]
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CurrentPrice(productID string) (*models.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.Price
	for id := range r.prices {
		p := r.prices[id]
		if p.ProductID != productID || !p.Active {
			continue
		}
		if best == nil || p.CreatedAt.After(best.CreatedAt) {
			cp := p
			best = &cp
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return best, nil
}

func (r *memRepo) SavePrice(p *models.Price) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	stored := *p
	stored.Product = models.Product{}
	r.prices[p.ID] = stored
	return nil
}

func (r *memRepo) DeletePrice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prices[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	for _, item := range r.items {
		if item.PriceID == id {
			return ErrPriceInUse
		}
	}
	for _, sub := range r.subs {
		if sub.PriceID == id {
			return ErrPriceInUse
		}
	}
	delete(r.prices, id)
	return nil
}

func (r *memRepo) GetOpenOrder(customerID uint) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.CustomerID == customerID && !o.Complete {
			return r.orderWithItems(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrderByID(id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return r.orderWithItems(o), nil
}

func (r *memRepo) GetOrderByNumber(customerID uint, orderNumber string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.CustomerID == customerID && o.OrderNumber == orderNumber {
			return r.orderWithItems(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrderByCheckoutSession(sessionID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripeCheckoutSessionID != "" && o.StripeCheckoutSessionID == sessionID {
			return r.orderWithItems(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrderByPaymentIntent(paymentIntentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripePaymentIntentID != "" && o.StripePaymentIntentID == paymentIntentID {
			return r.orderWithItems(o), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) ListCompletedOrders(customerID uint) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Order
	for _, o := range r.orders {
		if o.CustomerID == customerID && o.Complete {
			out = append(out, *r.orderWithItems(o))
		}
	}
	return out, nil
}

func (r *memRepo) CreateOrder(o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.orders {
		if existing.OrderNumber == o.OrderNumber {
			return gorm.ErrDuplicatedKey
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	stored := *o
	stored.Items = nil
	r.orders[o.ID] = stored
	return nil
}

func (r *memRepo) SaveOrder(o *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *o
	stored.Items = nil
	r.orders[o.ID] = stored
	return nil
}

func (r *memRepo) GetOrderItem(orderID, productID, priceID string) (*models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.OrderID == orderID && item.ProductID == productID && item.PriceID == priceID {
			item.Price = r.prices[item.PriceID]
			item.Product = r.products[item.ProductID]
			return &item, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetOrderItemByID(id string) (*models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	item.Price = r.prices[item.PriceID]
	item.Product = r.products[item.ProductID]
	return &item, nil
}

func (r *memRepo) SaveOrderItem(item *models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	stored := *item
	stored.Order = models.Order{}
	stored.Price = models.Price{}
	stored.Product = models.Product{}
	r.items[item.ID] = stored
	return nil
}

func (r *memRepo) DeleteOrderItem(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

func (r *memRepo) OwnedQuantity(customerID uint, productID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, item := range r.items {
		if item.ProductID != productID || item.Refunded {
			continue
		}
		order, ok := r.orders[item.OrderID]
		if !ok || order.CustomerID != customerID || !order.Complete {
			continue
		}
		total += item.Quantity
	}
	return total, nil
}

func (r *memRepo) GetSubscriptionByStripeID(stripeSubscriptionID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.StripeSubscriptionID == stripeSubscriptionID {
			s.Price = r.prices[s.PriceID]
			s.Product = r.products[s.ProductID]
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) UpsertSubscription(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing.StripeSubscriptionID == sub.StripeSubscriptionID {
			sub.ID = existing.ID
			break
		}
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	stored := *sub
	stored.Customer = models.Customer{}
	stored.Price = models.Price{}
	stored.Product = models.Product{}
	r.subs[sub.ID] = stored
	return nil
}

func (r *memRepo) SaveSubscription(sub *models.Subscription) error {
	return r.UpsertSubscription(sub)
}

func (r *memRepo) ListSubscriptions(customerID uint) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Subscription
	for _, s := range r.subs {
		if s.CustomerID == customerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) ActiveSubscription(customerID uint, productID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.CustomerID == customerID && s.ProductID == productID && s.IsActive() {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateWebhookEventIfNew(event *models.StoreWebhookEvent) (bool, *models.StoreWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored, ok := r.events[event.ProviderEventID]; ok {
		return false, &stored, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	r.events[event.ProviderEventID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *memRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for key, e := range r.events {
		if e.ID == id {
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			r.events[key] = e
		}
	}
	return nil
}

func (r *memRepo) Transaction(fn func(Repository) error) error {
	return fn(r)
}

// fakeClient is a scripted RemoteProcessorClient. With enabled=false it
// behaves like the free-mode DisabledClient.
type fakeClient struct {
	enabled bool

	remoteSubs     map[string]*RemoteSubscription
	remoteInvoices map[string]*RemoteInvoice
	session        *RemoteCheckoutSession

	refundErr error

	createdCustomers []string
	deletedCustomers []string
	createdProducts  []string
	updatedProducts  []string
	createdPrices    []PriceParams
	priceActivity    map[string]bool
	sessionParams    []CheckoutSessionParams
	refunds          []RefundParams
	canceledSubs     []string
	modifiedSubs     []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		enabled:        true,
		remoteSubs:     map[string]*RemoteSubscription{},
		remoteInvoices: map[string]*RemoteInvoice{},
		priceActivity:  map[string]bool{},
		session:        &RemoteCheckoutSession{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1"},
	}
}

func (f *fakeClient) Enabled() bool { return f.enabled }

func (f *fakeClient) CreateCustomer(_ context.Context, email, _ string) (*RemoteCustomer, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	f.createdCustomers = append(f.createdCustomers, email)
	return &RemoteCustomer{ID: fmt.Sprintf("cus_%d", len(f.createdCustomers))}, nil
}

func (f *fakeClient) DeleteCustomer(_ context.Context, customerID string) error {
	if !f.enabled {
		return ErrRemoteDisabled
	}
	f.deletedCustomers = append(f.deletedCustomers, customerID)
	return nil
}

func (f *fakeClient) CreateProduct(_ context.Context, id, _, _ string) (*RemoteProduct, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	f.createdProducts = append(f.createdProducts, id)
	return &RemoteProduct{ID: "prod_" + id}, nil
}

func (f *fakeClient) UpdateProduct(_ context.Context, productID, _, _ string) error {
	if !f.enabled {
		return ErrRemoteDisabled
	}
	f.updatedProducts = append(f.updatedProducts, productID)
	return nil
}

func (f *fakeClient) CreatePrice(_ context.Context, params PriceParams) (*RemotePrice, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	f.createdPrices = append(f.createdPrices, params)
	return &RemotePrice{ID: fmt.Sprintf("price_%d", len(f.createdPrices))}, nil
}

func (f *fakeClient) SetPriceActive(_ context.Context, priceID string, active bool) error {
	if !f.enabled {
		return ErrRemoteDisabled
	}
	f.priceActivity[priceID] = active
	return nil
}

func (f *fakeClient) CreateCheckoutSession(_ context.Context, params CheckoutSessionParams) (*RemoteCheckoutSession, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	f.sessionParams = append(f.sessionParams, params)
	return f.session, nil
}

func (f *fakeClient) GetSubscription(_ context.Context, subscriptionID string) (*RemoteSubscription, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	sub, ok := f.remoteSubs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	cp := *sub
	return &cp, nil
}

func (f *fakeClient) ModifySubscription(_ context.Context, subscriptionID string, _ bool) error {
	if !f.enabled {
		return ErrRemoteDisabled
	}
	f.modifiedSubs = append(f.modifiedSubs, subscriptionID)
	return nil
}

func (f *fakeClient) CancelSubscription(_ context.Context, subscriptionID string) error {
	if !f.enabled {
		return ErrRemoteDisabled
	}
	f.canceledSubs = append(f.canceledSubs, subscriptionID)
	return nil
}

func (f *fakeClient) GetInvoice(_ context.Context, invoiceID string) (*RemoteInvoice, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	inv, ok := f.remoteInvoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("no such invoice %s", invoiceID)
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeClient) CreateRefund(_ context.Context, params RefundParams) (*RemoteRefund, error) {
	if !f.enabled {
		return nil, ErrRemoteDisabled
	}
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.refunds = append(f.refunds, params)
	return &RemoteRefund{ID: fmt.Sprintf("re_%d", len(f.refunds))}, nil
}

// Shared fixtures.

func newTestService() (*Service, *memRepo, *fakeClient) {
	repo := newMemRepo()
	client := newFakeClient()
	return NewService(repo, client), repo, client
}

func seedCustomer(repo *memRepo) *models.Customer {
	repo.addUser(models.User{ID: 1, Name: "Alex", Email: "alex@example.com", Status: models.STATUS_ACTIVE})
	customer, _ := repo.GetOrCreateCustomer(1)
	customer.StripeCustomerID = "cus_local_1"
	_ = repo.SaveCustomer(customer)
	return customer
}

func seedProductWithPrice(repo *memRepo, productID string, amount uint, single bool) (models.Product, models.Price) {
	product := repo.addProduct(models.Product{
		ID:                 productID,
		Name:               productID,
		StripeProductID:    "prod_" + productID,
		SinglePurchaseOnly: single,
	})
	price := repo.addPrice(models.Price{
		ProductID:     productID,
		Amount:        amount,
		Active:        true,
		StripePriceID: "price_" + productID,
	})
	return product, price
}

func seedSubscriptionPrice(repo *memRepo, productID string, amount uint) (models.Product, models.Price) {
	product := repo.addProduct(models.Product{
		ID:              productID,
		Name:            productID,
		StripeProductID: "prod_" + productID,
	})
	price := repo.addPrice(models.Price{
		ProductID:       productID,
		Amount:          amount,
		Active:          true,
		IsSubscription:  true,
		BillingInterval: models.BillingIntervalMonthly,
		StripePriceID:   "price_" + productID,
	})
	return product, price
}
