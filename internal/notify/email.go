package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"virtual-market/internal/domain"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

var (
	confirmationTmpl = template.Must(template.New("confirmation").Parse(`<h2>Thank you for your order!</h2>
<p>Order Number: {{.OrderNumber}}</p>
<p><strong>Location:</strong> {{if .Address}}{{.Address}}{{else}}Not provided{{end}}</p>
<h3>Order Summary:</h3>
<ul>{{range .Items}}
<li>{{.Name}} - {{.Quantity}} × {{.Price}} AMD</li>{{end}}
</ul>
<p><strong>Total:</strong> {{.Total}} AMD</p>`))

	acceptedTmpl = template.Must(template.New("accepted").Parse(`<h2>Your order has been accepted!</h2>
<p>Order Number: {{.OrderNumber}}</p>
<p>Total: {{.Total}} AMD</p>
<p>Delivery Address: {{if .Address}}{{.Address}}{{else}}Not provided{{end}}</p>`))
)

// EmailHook sends the order confirmation and the acceptance notice through
// Brevo's transactional email API.
type EmailHook struct {
	APIKey     string
	Sender     string
	SenderName string
	Endpoint   string
	Client     *http.Client
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoEmail struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

func (e *EmailHook) Name() string { return "email" }

func (e *EmailHook) Handle(ctx context.Context, evt domain.Event) error {
	var (
		subject string
		tmpl    *template.Template
	)
	switch {
	case evt.Kind == domain.EventNewOrder:
		subject = "Order Confirmation - " + evt.Order.OrderNumber
		tmpl = confirmationTmpl
	case evt.Kind == domain.EventStatusChanged && evt.Order.Status == domain.StatusProcessing:
		subject = fmt.Sprintf("Order %s Accepted", evt.Order.OrderNumber)
		tmpl = acceptedTmpl
	default:
		return nil
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, evt.Order); err != nil {
		return err
	}
	msg := brevoEmail{
		Sender:      brevoContact{Name: e.SenderName, Email: e.Sender},
		To:          []brevoContact{{Name: evt.Order.CustomerName, Email: evt.Order.Email}},
		Subject:     subject,
		HTMLContent: body.String(),
	}
	endpoint := e.Endpoint
	if endpoint == "" {
		endpoint = brevoEndpoint
	}
	return postJSON(ctx, e.client(), endpoint, map[string]string{"api-key": e.APIKey}, msg, "email")
}

func (e *EmailHook) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any, channel string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(client, req, channel)
}

func do(client *http.Client, req *http.Request, channel string) error {
	resp, err := client.Do(req)
	if err != nil {
		return &domain.NotificationDeliveryError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.NotificationDeliveryError{Channel: channel, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
