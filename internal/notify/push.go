package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sirupsen/logrus"

	"virtual-market/internal/domain"
)

// Subscription is a browser push endpoint as produced by PushManager.subscribe.
type Subscription = webpush.Subscription

// SubscriptionStore keeps one push registration per device or user key.
type SubscriptionStore interface {
	Save(ctx context.Context, key string, sub Subscription) error
	// Get returns nil, nil when the key has no registration.
	Get(ctx context.Context, key string) (*Subscription, error)
	Delete(ctx context.Context, key string) error
}

// PushSender delivers one payload and reports the push service's status code.
type PushSender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) (int, error)
}

// PushRegistry routes order events to the single device registered for them.
type PushRegistry struct {
	store  SubscriptionStore
	sender PushSender
	log    logrus.FieldLogger
}

func NewPushRegistry(store SubscriptionStore, sender PushSender, log logrus.FieldLogger) *PushRegistry {
	return &PushRegistry{store: store, sender: sender, log: log}
}

func (p *PushRegistry) Subscribe(ctx context.Context, key string, sub Subscription) error {
	if key == "" || sub.Endpoint == "" {
		return &domain.ValidationError{Fields: []string{"deviceId", "subscription.endpoint"}, Msg: "device key and endpoint are required"}
	}
	return p.store.Save(ctx, key, sub)
}

func (p *PushRegistry) Unsubscribe(ctx context.Context, key string) error {
	return p.store.Delete(ctx, key)
}

// SendTo delivers evt to key's registration. A gone endpoint is removed.
func (p *PushRegistry) SendTo(ctx context.Context, key string, evt domain.Event) error {
	sub, err := p.store.Get(ctx, key)
	if err != nil {
		return &domain.NotificationDeliveryError{Channel: "push", Err: err}
	}
	if sub == nil {
		return nil
	}

	payload, err := json.Marshal(pushPayloadFor(evt))
	if err != nil {
		return err
	}
	code, err := p.sender.Send(ctx, *sub, payload)
	if err == nil && code >= 200 && code < 300 {
		return nil
	}
	if err == nil {
		err = errors.New(http.StatusText(code))
	}
	derr := &domain.NotificationDeliveryError{Channel: "push", StatusCode: code, Err: err}
	if derr.Gone() {
		if delErr := p.store.Delete(ctx, key); delErr != nil {
			p.log.WithError(delErr).WithField("device", key).Warn("could not remove stale push registration")
		} else {
			p.log.WithField("device", key).Info("removed stale push registration")
		}
	}
	return derr
}

func (p *PushRegistry) Name() string { return "push" }

func (p *PushRegistry) Handle(ctx context.Context, evt domain.Event) error {
	key := evt.Order.DeviceKey()
	if key == "" {
		return nil
	}
	return p.SendTo(ctx, key, evt)
}

// pushPayload is what the service worker reads in its push handler.
type pushPayload struct {
	Title   string             `json:"title"`
	Body    string             `json:"body"`
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
}

func pushPayloadFor(evt domain.Event) pushPayload {
	o := evt.Order
	p := pushPayload{OrderID: o.ID.String(), Status: o.Status}
	if evt.Kind == domain.EventNewOrder {
		p.Title = "Order received"
		p.Body = fmt.Sprintf("Order %s has been placed. Total: %s AMD", o.OrderNumber, o.Total.String())
	} else {
		p.Title = "Order update"
		p.Body = fmt.Sprintf("Order %s is now %s", o.OrderNumber, o.Status)
	}
	return p
}

// VAPIDSender sends through the Web Push protocol with VAPID authentication.
type VAPIDSender struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
	Client     *http.Client
}

func (v *VAPIDSender) Send(ctx context.Context, sub Subscription, payload []byte) (int, error) {
	ttl := v.TTL
	if ttl == 0 {
		ttl = int((24 * time.Hour).Seconds())
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &sub, &webpush.Options{
		HTTPClient:      v.Client,
		Subscriber:      v.Subject,
		VAPIDPublicKey:  v.PublicKey,
		VAPIDPrivateKey: v.PrivateKey,
		TTL:             ttl,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

type memorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func NewMemorySubscriptionStore() SubscriptionStore {
	return &memorySubscriptionStore{subs: make(map[string]Subscription)}
}

func (m *memorySubscriptionStore) Save(_ context.Context, key string, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[key] = sub
	return nil
}

func (m *memorySubscriptionStore) Get(_ context.Context, key string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[key]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (m *memorySubscriptionStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, key)
	return nil
}
