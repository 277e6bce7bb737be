// Package templates содержит реестр текстов уведомлений на трёх языках.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/mmeshcher/marketplace-notifier/internal/model"
)

// ErrTemplateMissing возвращается, если для пары (событие, получатель) нет шаблона.
var ErrTemplateMissing = errors.New("notification template missing")

// Audience описывает роль получателя уведомления.
type Audience string

const (
	AudienceCustomer      Audience = "customer"
	AudienceSeller        Audience = "seller"
	AudienceAdmin         Audience = "admin"
	AudienceSubscriber    Audience = "subscriber"
	AudienceSupportAuthor Audience = "support_author"
)

// Key идентифицирует шаблон.
type Key struct {
	Type     model.NotificationType
	Audience Audience
}

func (k Key) String() string {
	return string(k.Type) + "/" + string(k.Audience)
}

// Text: исходники шаблонов заголовка и текста для одного языка.
type Text struct {
	Title   string
	Message string
}

// Definition: шаблон уведомления на всех языках.
type Definition map[model.Locale]Text

// Data: значения, подставляемые в шаблоны.
type Data struct {
	OrderNumber   string
	Amount        string
	Currency      string
	PaymentMethod string
	ErrorMessage  string
	RefundAmount  string
	ProductName   model.LocalizedText
	OldPrice      string
	NewPrice      string
	Subject       string
	Reply         string
	AlertText     string
}

type compiled struct {
	title   map[model.Locale]*template.Template
	message map[model.Locale]*template.Template
}

// Registry хранит скомпилированные шаблоны уведомлений.
type Registry struct {
	entries  map[Key]*compiled
	fallback *compiled
}

// NewRegistry компилирует определения шаблонов. Каждое определение обязано содержать все три языка.
func NewRegistry(defs map[Key]Definition, fallback Definition) (*Registry, error) {
	r := &Registry{entries: make(map[Key]*compiled, len(defs))}

	for key, def := range defs {
		c, err := compile(key.String(), def)
		if err != nil {
			return nil, err
		}
		r.entries[key] = c
	}

	fb, err := compile("fallback", fallback)
	if err != nil {
		return nil, err
	}
	r.fallback = fb

	return r, nil
}

func compile(name string, def Definition) (*compiled, error) {
	c := &compiled{
		title:   make(map[model.Locale]*template.Template, len(model.Locales)),
		message: make(map[model.Locale]*template.Template, len(model.Locales)),
	}

	for _, l := range model.Locales {
		txt, ok := def[l]
		if !ok || txt.Title == "" || txt.Message == "" {
			return nil, fmt.Errorf("%w: %s has no %s text", ErrTemplateMissing, name, l)
		}

		title, err := template.New(name + ".title." + string(l)).Option("missingkey=error").Parse(txt.Title)
		if err != nil {
			return nil, fmt.Errorf("parse %s title (%s): %w", name, l, err)
		}
		msg, err := template.New(name + ".message." + string(l)).Option("missingkey=error").Parse(txt.Message)
		if err != nil {
			return nil, fmt.Errorf("parse %s message (%s): %w", name, l, err)
		}

		c.title[l] = title
		c.message[l] = msg
	}

	return c, nil
}

// Has сообщает, зарегистрирован ли шаблон.
func (r *Registry) Has(key Key) bool {
	_, ok := r.entries[key]
	return ok
}

// Render формирует заголовок и текст уведомления для пары (событие, получатель).
func (r *Registry) Render(key Key, data Data) (model.LocalizedText, model.LocalizedText, error) {
	c, ok := r.entries[key]
	if !ok {
		return model.LocalizedText{}, model.LocalizedText{}, fmt.Errorf("%w: %s", ErrTemplateMissing, key)
	}
	return c.render(key.String(), data)
}

// RenderFallback формирует универсальный текст для события без собственного шаблона.
func (r *Registry) RenderFallback(key Key, data Data) (model.LocalizedText, model.LocalizedText, error) {
	return r.fallback.render(key.String(), data)
}

func (c *compiled) render(name string, data Data) (model.LocalizedText, model.LocalizedText, error) {
	var title, message model.LocalizedText

	for _, l := range model.Locales {
		t, err := execute(c.title[l], data)
		if err != nil {
			return title, message, fmt.Errorf("render %s title (%s): %w", name, l, err)
		}
		m, err := execute(c.message[l], data)
		if err != nil {
			return title, message, fmt.Errorf("render %s message (%s): %w", name, l, err)
		}
		if t == "" || m == "" {
			return title, message, fmt.Errorf("%w: %s renders empty %s text", ErrTemplateMissing, name, l)
		}

		switch l {
		case model.LocaleRU:
			title.RU, message.RU = t, m
		case model.LocaleUZ:
			title.UZ, message.UZ = t, m
		case model.LocaleEN:
			title.EN, message.EN = t, m
		}
	}

	return title, message, nil
}

func execute(t *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Validate проверяет, что для каждого события есть шаблоны для всех его получателей
// и все они дают непустой текст на образцовых данных.
func (r *Registry) Validate(required map[model.NotificationType][]Audience) error {
	var missing []string

	for typ, audiences := range required {
		for _, aud := range audiences {
			key := Key{Type: typ, Audience: aud}
			if _, _, err := r.Render(key, SampleData()); err != nil {
				missing = append(missing, err.Error())
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("template registry invalid: %s", strings.Join(missing, "; "))
	}
	return nil
}

// SampleData возвращает заполненные данные для проверки шаблонов.
func SampleData() Data {
	return Data{
		OrderNumber:   "ORD-1001",
		Amount:        "50000",
		Currency:      "UZS",
		PaymentMethod: "click",
		ErrorMessage:  "declined",
		RefundAmount:  "50000",
		ProductName:   model.LocalizedText{RU: "Товар", UZ: "Mahsulot", EN: "Product"},
		OldPrice:      "120000",
		NewPrice:      "99000",
		Subject:       "Delivery",
		Reply:         "Your parcel is on the way",
		AlertText:     "Check payment gateway",
	}
}
