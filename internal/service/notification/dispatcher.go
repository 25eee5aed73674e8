// Package notification отправляет покупателю подтверждение заказа.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Message — готовое к отправке письмо.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer доставляет письмо; ошибка означает, что доставка не удалась.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

const subjectTemplate = `Order {{.Number}} received`

const bodyTemplate = `Thank you for your order {{.Number}}.

{{range .Lines}}{{.Quantity}} x {{.ProductName}}{{if .Variant}} ({{.Variant}}){{end}}  {{.LineTotal}}
{{end}}
Subtotal: {{.Subtotal}}
Shipping: {{.Shipping}}
Tax:      {{.Tax}}
{{- if .HasDiscount}}
Discount: -{{.Discount}}
{{- end}}
Total:    {{.Total}}

Delivery address: {{.DeliveryAddress}}
{{- if .TrackingURL}}
Track your order: {{.TrackingURL}}
{{- end}}
`

type lineView struct {
	Quantity    int
	ProductName string
	Variant     string
	LineTotal   string
}

type orderView struct {
	Number          string
	Lines           []lineView
	Subtotal        string
	Shipping        string
	Tax             string
	Discount        string
	HasDiscount     bool
	Total           string
	DeliveryAddress string
	TrackingURL     string
}

// Dispatcher реализует domain.Notifier поверх Mailer.
type Dispatcher struct {
	mailer      Mailer
	trackingURL string
	subject     *template.Template
	body        *template.Template
	metrics     *metrics.Storefront
	logger      *log.Entry
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithTrackingBaseURL добавляет в письмо ссылку вида <base>/<tracking token>.
func WithTrackingBaseURL(base string) Option {
	return func(d *Dispatcher) {
		d.trackingURL = strings.TrimRight(base, "/")
	}
}

func WithMetrics(m *metrics.Storefront) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher создаёт диспетчер. Шаблоны разбираются один раз при старте.
func NewDispatcher(mailer Mailer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		mailer:  mailer,
		subject: template.Must(template.New("subject").Parse(subjectTemplate)),
		body:    template.Must(template.New("body").Parse(bodyTemplate)),
		logger:  log.WithField("component", "notification"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyOrderConfirmed отправляет подтверждение. Любая ошибка логируется и превращается в false.
func (d *Dispatcher) NotifyOrderConfirmed(ctx context.Context, order domain.Order) bool {
	logger := d.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
	})

	recipient := order.RecipientEmail()
	if recipient == "" {
		logger.WithError(domain.ErrNoRecipient).Warn("order confirmation skipped")
		d.metrics.Notification(false)
		return false
	}

	msg, err := d.render(order, recipient)
	if err == nil {
		err = d.send(ctx, msg)
	}
	if err != nil {
		deliveryErr := &domain.NotificationDeliveryError{OrderNumber: order.Number, Recipient: recipient, Err: err}
		logger.WithError(deliveryErr).Error("order confirmation failed")
		d.metrics.Notification(false)
		return false
	}

	logger.WithField("recipient", recipient).Info("order confirmation sent")
	d.metrics.Notification(true)
	return true
}

// send изолирует панику транспорта, чтобы она не дошла до оформления заказа.
func (d *Dispatcher) send(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mailer panic: %v", r)
		}
	}()
	if d.mailer == nil {
		return fmt.Errorf("mailer is not configured")
	}
	return d.mailer.Send(ctx, msg)
}

// Render строит письмо для заказа; пригодно для предпросмотра.
func (d *Dispatcher) Render(order domain.Order) (Message, error) {
	return d.render(order, order.RecipientEmail())
}

func (d *Dispatcher) render(order domain.Order, recipient string) (Message, error) {
	view := orderView{
		Number:          order.Number,
		Subtotal:        order.Subtotal.StringFixed(2),
		Shipping:        order.Shipping.StringFixed(2),
		Tax:             order.Tax.StringFixed(2),
		Discount:        order.Discount.StringFixed(2),
		HasDiscount:     order.Discount.IsPositive(),
		Total:           order.Total.StringFixed(2),
		DeliveryAddress: order.DeliveryAddress,
	}
	if d.trackingURL != "" && order.TrackingToken != "" {
		view.TrackingURL = d.trackingURL + "/" + order.TrackingToken
	}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, lineView{
			Quantity:    line.Quantity,
			ProductName: line.ProductName,
			Variant:     line.Variant,
			LineTotal:   line.LineTotal.StringFixed(2),
		})
	}

	var subject, body bytes.Buffer
	if err := d.subject.Execute(&subject, view); err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	if err := d.body.Execute(&body, view); err != nil {
		return Message{}, fmt.Errorf("render body: %w", err)
	}
	return Message{To: recipient, Subject: subject.String(), Body: body.String()}, nil
}

var _ domain.Notifier = (*Dispatcher)(nil)
