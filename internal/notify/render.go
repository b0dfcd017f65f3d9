package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/edvin/sslshop/internal/model"
)

// Message is a rendered notification.
type Message struct {
	Kind      model.NotificationKind
	EventID   string
	OrderID   string
	OwnerID   string
	Recipient string
	Subject   string
	Body      string
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[model.NotificationKind]messageTemplate{
	model.KindOrderConfirmed: mustTemplate(
		"Order confirmed for {{.Domain}}",
		"We have placed your certificate order for {{.Domain}} with the certificate authority.\n"+
			"You will receive a validation email at {{.Recipient}} shortly.",
	),
	model.KindCertificateIssued: mustTemplate(
		"Your certificate for {{.Domain}} is ready",
		"The certificate for {{.Domain}} has been issued and is valid until {{index .Data \"expires_at\"}}.\n"+
			"Download it from your account.",
	),
	model.KindExpiryWarning: mustTemplate(
		"{{.Domain}} expires in {{index .Data \"days\"}} days",
		"The certificate for {{.Domain}} expires on {{index .Data \"expires_at\"}}.\n"+
			"Renew it before then to avoid browser warnings.",
	),
	model.KindRenewalSucceeded: mustTemplate(
		"Renewal placed for {{.Domain}}",
		"Your subscription renewed the certificate for {{.Domain}}. The new certificate is being issued.",
	),
	model.KindRenewalFailed: mustTemplate(
		"Renewal failed for {{.Domain}}",
		"We could not renew the certificate for {{.Domain}}. {{index .Data \"reason\"}}\n"+
			"Update your payment method or contact support before the current certificate expires.",
	),
	model.KindPaymentFailed: mustTemplate(
		"Payment failed for {{.Domain}}",
		"{{index .Data \"reason\"}} Your order for {{.Domain}} was not placed.",
	),
	model.KindDomainValidationRequired: mustTemplate(
		"Validate your domain {{.Domain}}",
		"The certificate authority needs you to confirm control of {{.Domain}}.\n"+
			"Follow the instructions sent to {{.Recipient}}.",
	),
	model.KindOrderFailed: mustTemplate(
		"Order failed for {{.Domain}}",
		"{{index .Data \"reason\"}}",
	),
}

func mustTemplate(subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Render builds the message for an event. Audit-only events and unknown
// kinds have no message.
func Render(e model.LifecycleEvent) (Message, error) {
	tmpl, ok := templates[e.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for notification kind %q", e.Kind)
	}
	vars := struct {
		Domain    string
		Recipient string
		OrderID   string
		Data      map[string]string
	}{e.DomainName, e.Recipient, e.OrderID, e.Data}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, vars); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", e.Kind, err)
	}
	if err := tmpl.body.Execute(&body, vars); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", e.Kind, err)
	}
	return Message{
		Kind:      e.Kind,
		EventID:   e.ID,
		OrderID:   e.OrderID,
		OwnerID:   e.OwnerID,
		Recipient: e.Recipient,
		Subject:   subject.String(),
		Body:      body.String(),
	}, nil
}
