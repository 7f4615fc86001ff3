package models

import (
	"fmt"
	"strings"
)

const (
	MaxButtons      = 3
	MaxListSections = 10
	MaxListRows     = 10
	MinPollOptions  = 2
	MaxPollOptions  = 12
)

// OutboundPayload é o conteúdo de uma mensagem de saída. Apenas o bloco
// correspondente a Kind é considerado.
type OutboundPayload struct {
	Kind     MessageKind      `json:"kind"`
	Text     string           `json:"text,omitempty"`
	QuotedID string           `json:"quoted_id,omitempty"`
	Media    *MediaPayload    `json:"media,omitempty"`
	Buttons  *ButtonsPayload  `json:"buttons,omitempty"`
	List     *ListPayload     `json:"list,omitempty"`
	Reaction *ReactionPayload `json:"reaction,omitempty"`
	Location *LocationPayload `json:"location,omitempty"`
	Poll     *PollPayload     `json:"poll,omitempty"`
	Product  *ProductPayload  `json:"product,omitempty"`
}

type MediaPayload struct {
	URL      string `json:"url,omitempty"`
	Base64   string `json:"base64,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileName string `json:"file_name,omitempty"`
	Caption  string `json:"caption,omitempty"`
	PTT      bool   `json:"ptt,omitempty"`
}

type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type ButtonsPayload struct {
	Body    string   `json:"body"`
	Footer  string   `json:"footer,omitempty"`
	Buttons []Button `json:"buttons"`
}

type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

type ListPayload struct {
	Title      string        `json:"title,omitempty"`
	Body       string        `json:"body"`
	Footer     string        `json:"footer,omitempty"`
	ButtonText string        `json:"button_text"`
	Sections   []ListSection `json:"sections"`
}

// ReactionPayload reage à mensagem MessageID (id de protocolo). Emoji vazio remove a reação.
type ReactionPayload struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type PollPayload struct {
	Name            string   `json:"name"`
	Options         []string `json:"options"`
	SelectableCount int      `json:"selectable_count"`
}

type ProductPayload struct {
	ProductID        string `json:"product_id"`
	BusinessOwnerJID string `json:"business_owner_jid"`
	Title            string `json:"title,omitempty"`
	Description      string `json:"description,omitempty"`
	CurrencyCode     string `json:"currency_code,omitempty"`
	PriceAmount1000  int64  `json:"price_amount_1000,omitempty"`
	Body             string `json:"body,omitempty"`
	Footer           string `json:"footer,omitempty"`
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// Validate aplica os limites estruturais de cada tipo de conteúdo.
func (p *OutboundPayload) Validate() error {
	switch p.Kind {
	case KindText:
		if strings.TrimSpace(p.Text) == "" {
			return invalid("text: empty message")
		}
	case KindImage, KindVideo, KindAudio, KindDocument:
		if p.Media == nil || (p.Media.URL == "" && p.Media.Base64 == "") {
			return invalid("%s: url or base64 content is required", p.Kind)
		}
	case KindButtons:
		b := p.Buttons
		if b == nil || strings.TrimSpace(b.Body) == "" {
			return invalid("buttons: body is required")
		}
		if len(b.Buttons) == 0 {
			return invalid("buttons: at least one button is required")
		}
		if len(b.Buttons) > MaxButtons {
			return invalid("buttons: at most %d allowed, got %d", MaxButtons, len(b.Buttons))
		}
		for i, btn := range b.Buttons {
			if strings.TrimSpace(btn.Text) == "" {
				return invalid("buttons: button %d has no text", i)
			}
		}
	case KindList:
		l := p.List
		if l == nil || strings.TrimSpace(l.Body) == "" || strings.TrimSpace(l.ButtonText) == "" {
			return invalid("list: body and button_text are required")
		}
		if len(l.Sections) == 0 {
			return invalid("list: at least one section is required")
		}
		if len(l.Sections) > MaxListSections {
			return invalid("list: at most %d sections allowed, got %d", MaxListSections, len(l.Sections))
		}
		rows := 0
		for i, s := range l.Sections {
			if len(s.Rows) == 0 {
				return invalid("list: section %d has no rows", i)
			}
			for j, r := range s.Rows {
				if strings.TrimSpace(r.Title) == "" {
					return invalid("list: row %d of section %d has no title", j, i)
				}
			}
			rows += len(s.Rows)
		}
		if rows > MaxListRows {
			return invalid("list: at most %d rows allowed, got %d", MaxListRows, rows)
		}
	case KindReaction:
		if p.Reaction == nil || p.Reaction.MessageID == "" {
			return invalid("reaction: message_id is required")
		}
	case KindLocation:
		loc := p.Location
		if loc == nil {
			return invalid("location: coordinates are required")
		}
		if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
			return invalid("location: coordinates out of range")
		}
	case KindPoll:
		poll := p.Poll
		if poll == nil || strings.TrimSpace(poll.Name) == "" {
			return invalid("poll: name is required")
		}
		if len(poll.Options) < MinPollOptions || len(poll.Options) > MaxPollOptions {
			return invalid("poll: between %d and %d options required, got %d", MinPollOptions, MaxPollOptions, len(poll.Options))
		}
		if poll.SelectableCount < 0 || poll.SelectableCount > len(poll.Options) {
			return invalid("poll: selectable_count out of range")
		}
	case KindProduct:
		if p.Product == nil || p.Product.ProductID == "" || p.Product.BusinessOwnerJID == "" {
			return invalid("product: product_id and business_owner_jid are required")
		}
	default:
		return invalid("unknown kind %q", p.Kind)
	}
	return nil
}

// Summary é o texto guardado em Message.Content para o payload.
func (p *OutboundPayload) Summary() string {
	switch p.Kind {
	case KindText:
		return p.Text
	case KindImage, KindVideo, KindAudio, KindDocument:
		if p.Media != nil {
			return p.Media.Caption
		}
	case KindButtons:
		if p.Buttons != nil {
			return p.Buttons.Body
		}
	case KindList:
		if p.List != nil {
			return p.List.Body
		}
	case KindReaction:
		if p.Reaction != nil {
			return p.Reaction.Emoji
		}
	case KindLocation:
		if p.Location != nil {
			if p.Location.Name != "" {
				return p.Location.Name
			}
			return fmt.Sprintf("%f,%f", p.Location.Latitude, p.Location.Longitude)
		}
	case KindPoll:
		if p.Poll != nil {
			return p.Poll.Name
		}
	case KindProduct:
		if p.Product != nil {
			return p.Product.Title
		}
	}
	return ""
}
