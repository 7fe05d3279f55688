package webhook

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// Kind tags a decoded gateway notification.
type Kind int

const (
	// KindUnrecognized covers payloads that are acknowledged but never processed.
	KindUnrecognized Kind = iota
	// KindPayment is an inbound transfer that may settle a pending transaction.
	KindPayment
)

// Notification is the decoded form of a gateway callback.
type Notification struct {
	Kind      Kind
	Source    string
	GatewayID string
	Token     string
	Amount    decimal.Decimal
	Content   string
	Reason    string
}

func unrecognized(reason string) Notification {
	return Notification{Kind: KindUnrecognized, Reason: reason}
}

// TokenMatcher finds correlation tokens of the form <prefix><16 hex digits> in free text.
type TokenMatcher struct {
	prefix  string
	pattern *regexp.Regexp
}

// NewTokenMatcher builds a matcher for the given order prefix. Banks frequently change the case
// of transfer content, so matching ignores case and the token is returned normalized.
func NewTokenMatcher(prefix string) TokenMatcher {
	return TokenMatcher{
		prefix:  prefix,
		pattern: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(prefix) + `([0-9a-f]{16})`),
	}
}

// Find returns the first token in text.
func (m TokenMatcher) Find(text string) (string, bool) {
	match := m.pattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return m.prefix + strings.ToLower(match[1]), true
}

// Decode parses a callback body. It never fails: anything it cannot understand comes back as
// KindUnrecognized with a reason.
//
// Accepted shapes:
//   - SePay: {"id", "transferType": "in", "transferAmount", "content", "code", "description"}
//   - legacy: {"amount", "content", "status": "SUCCESS"}
//   - sandbox: {"description", "amount"}
func Decode(body []byte, matcher TokenMatcher) Notification {
	if !gjson.ValidBytes(body) {
		return unrecognized("invalid json")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return unrecognized("payload is not an object")
	}

	var (
		n      Notification
		amount gjson.Result
	)
	switch {
	case doc.Get("transferType").Exists():
		if !strings.EqualFold(doc.Get("transferType").String(), "in") {
			return unrecognized("outbound transfer")
		}
		n.Source = "sepay"
		n.GatewayID = doc.Get("id").String()
		amount = doc.Get("transferAmount")
		n.Content = strings.TrimSpace(doc.Get("content").String() + " " + doc.Get("description").String())
		if code := strings.TrimSpace(doc.Get("code").String()); code != "" {
			if token, ok := matcher.Find(code); ok {
				n.Token = token
			} else {
				n.Token = code
			}
		}
	case doc.Get("status").Exists():
		if !strings.EqualFold(doc.Get("status").String(), "SUCCESS") {
			return unrecognized("status " + doc.Get("status").String())
		}
		n.Source = "legacy"
		amount = doc.Get("amount")
		n.Content = doc.Get("content").String()
	case doc.Get("description").Exists():
		n.Source = "sandbox"
		amount = doc.Get("amount")
		n.Content = doc.Get("description").String()
	default:
		return unrecognized("unknown payload shape")
	}

	value, ok := parseAmount(amount)
	if !ok {
		return unrecognized("missing or invalid amount")
	}
	n.Amount = value

	if n.Token == "" {
		token, ok := matcher.Find(n.Content)
		if !ok {
			return unrecognized("no correlation token")
		}
		n.Token = token
	}
	n.Kind = KindPayment
	return n
}

func parseAmount(r gjson.Result) (decimal.Decimal, bool) {
	var raw string
	switch r.Type {
	case gjson.Number:
		raw = r.Raw
	case gjson.String:
		raw = strings.TrimSpace(r.Str)
	default:
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}
