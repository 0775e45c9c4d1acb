package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/drbackfit/storefront/internal/domain"
	"github.com/drbackfit/storefront/internal/repositories"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

const (
	templateConfirmation = "confirmation"
	templateCancellation = "cancellation"
	templateStatusUpdate = "status_update"

	defaultStoreName = "Dr Backfit"
	deliveryLayout   = "Mon, 02 Jan 2006"
)

// Branding customises rendered emails.
type Branding struct {
	StoreName    string
	SupportEmail string
	// SiteURL is joined with /orders/{id} to link customers to their order.
	SiteURL  string
	Currency string
	Locale   string
}

// Renderer turns orders into Mail messages.
type Renderer struct {
	branding Branding
	html     map[string]*htmltemplate.Template
	text     map[string]*texttemplate.Template
	policy   *bluemonday.Policy
	unit     currency.Unit
	printer  *message.Printer
}

// NewRenderer parses the embedded templates.
func NewRenderer(branding Branding) (*Renderer, error) {
	if strings.TrimSpace(branding.StoreName) == "" {
		branding.StoreName = defaultStoreName
	}
	branding.SiteURL = strings.TrimRight(strings.TrimSpace(branding.SiteURL), "/")

	code := strings.ToUpper(strings.TrimSpace(branding.Currency))
	if code == "" {
		code = "INR"
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("notifications: currency %q: %w", code, err)
	}
	locale := strings.TrimSpace(branding.Locale)
	if locale == "" {
		locale = "en-IN"
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("notifications: locale %q: %w", locale, err)
	}

	r := &Renderer{
		branding: branding,
		html:     make(map[string]*htmltemplate.Template),
		text:     make(map[string]*texttemplate.Template),
		policy:   bluemonday.StrictPolicy(),
		unit:     unit,
		printer:  message.NewPrinter(tag),
	}
	for _, name := range []string{templateConfirmation, templateCancellation, templateStatusUpdate} {
		h, err := htmltemplate.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("notifications: parse %s.html: %w", name, err)
		}
		t, err := texttemplate.ParseFS(templateFS, "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("notifications: parse %s.txt: %w", name, err)
		}
		r.html[name] = h.Lookup(name + ".html")
		r.text[name] = t.Lookup(name + ".txt")
	}
	return r, nil
}

type itemView struct {
	Title    string
	Quantity int
	Subtotal string
}

type emailView struct {
	StoreName         string
	SupportEmail      string
	OrderURL          string
	CustomerName      string
	OrderNumber       string
	Items             []itemView
	Subtotal          string
	Tax               string
	Shipping          string
	Total             string
	ShippingAddress   string
	Note              string
	StatusLabel       string
	StatusDescription string
	StatusColor       string
	TrackingNumber    string
	EstimatedDelivery string
}

// Confirmation renders the order placed email.
func (r *Renderer) Confirmation(order domain.Order) (repositories.Mail, error) {
	view := r.view(order, "")
	return r.render(templateConfirmation, order, fmt.Sprintf("Order %s confirmed", order.OrderNumber), view)
}

// Cancellation renders the cancellation email. reason may be empty.
func (r *Renderer) Cancellation(order domain.Order, reason string) (repositories.Mail, error) {
	view := r.view(order, reason)
	return r.render(templateCancellation, order, fmt.Sprintf("Order %s cancelled", order.OrderNumber), view)
}

// StatusUpdate renders the status change email for the order's current status.
func (r *Renderer) StatusUpdate(order domain.Order, note string) (repositories.Mail, error) {
	view := r.view(order, note)
	subject := fmt.Sprintf("Order %s is now %s", order.OrderNumber, view.StatusLabel)
	return r.render(templateStatusUpdate, order, subject, view)
}

func (r *Renderer) render(name string, order domain.Order, subject string, view emailView) (repositories.Mail, error) {
	var htmlBody, textBody bytes.Buffer
	if err := r.html[name].Execute(&htmlBody, view); err != nil {
		return repositories.Mail{}, fmt.Errorf("notifications: render %s html: %w", name, err)
	}
	if err := r.text[name].Execute(&textBody, view); err != nil {
		return repositories.Mail{}, fmt.Errorf("notifications: render %s text: %w", name, err)
	}
	return repositories.Mail{
		To:      strings.TrimSpace(order.Customer.Email),
		Subject: subject,
		HTML:    htmlBody.String(),
		Text:    strings.TrimSpace(textBody.String()) + "\n",
	}, nil
}

func (r *Renderer) view(order domain.Order, note string) emailView {
	meta := domain.StatusInfo(order.Status)
	view := emailView{
		StoreName:         r.branding.StoreName,
		SupportEmail:      r.branding.SupportEmail,
		CustomerName:      firstNonEmpty(order.Customer.FullName(), "there"),
		OrderNumber:       order.OrderNumber,
		Subtotal:          r.money(order.Subtotal),
		Tax:               r.money(order.Tax),
		Shipping:          r.money(order.Shipping),
		Total:             r.money(order.Total),
		ShippingAddress:   formatAddress(order.ShippingAddress),
		Note:              r.clean(note),
		StatusLabel:       meta.Label,
		StatusDescription: meta.Description,
		StatusColor:       meta.Color,
		TrackingNumber:    r.clean(order.TrackingNumber),
	}
	if r.branding.SiteURL != "" {
		view.OrderURL = r.branding.SiteURL + "/orders/" + order.ID
	}
	if order.EstimatedDelivery != nil {
		view.EstimatedDelivery = order.EstimatedDelivery.Format(deliveryLayout)
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			Title:    item.Title,
			Quantity: item.Quantity,
			Subtotal: r.money(item.Subtotal),
		})
	}
	return view
}

func (r *Renderer) money(amount float64) string {
	return r.printer.Sprint(currency.Symbol(r.unit.Amount(amount)))
}

// clean strips markup from free text. Templates escape the result again.
func (r *Renderer) clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.policy.Sanitize(s)))
}

func formatAddress(a domain.Address) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{a.Address, a.City, a.State, a.ZipCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
