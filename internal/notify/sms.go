package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"virtual-market/internal/domain"
)

// messageCreator is the part of the Twilio REST API the hook uses.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// SMSHook texts the customer a confirmation through Twilio's Messages API.
type SMSHook struct {
	from     string
	messages messageCreator
}

func NewSMSHook(accountSID, authToken, from string) *SMSHook {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &SMSHook{from: from, messages: client.Api}
}

func (s *SMSHook) Name() string { return "sms" }

func (s *SMSHook) Handle(ctx context.Context, evt domain.Event) error {
	if evt.Kind != domain.EventNewOrder || evt.Order.Phone == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &domain.NotificationDeliveryError{Channel: "sms", Err: err}
	}
	o := evt.Order
	params := &openapi.CreateMessageParams{}
	params.SetTo(o.Phone)
	params.SetFrom(s.from)
	params.SetBody(fmt.Sprintf("Thank you %s, your order %s is confirmed. Total: %s AMD.", o.CustomerName, o.OrderNumber, o.Total.String()))

	if _, err := s.messages.CreateMessage(params); err != nil {
		derr := &domain.NotificationDeliveryError{Channel: "sms", Err: err}
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			derr.StatusCode = restErr.Status
		}
		return derr
	}
	return nil
}
