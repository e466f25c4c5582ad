package classify

import (
	"regexp"
	"strings"

	"github.com/abelbrown/sightline/internal/model"
)

// Rule decides a class for an incident snapshot. Rules are evaluated in
// order and the first that fires wins.
type Rule interface {
	Name() string
	Evaluate(snap *Snapshot) (model.OperationalClass, bool)
}

// FallbackRule is the name recorded when no rule fires.
const FallbackRule = "fallback"

// DefaultRules returns the standard rule order.
func DefaultRules(cfg Config) []Rule {
	ind := newIndicators(cfg)
	return []Rule{
		&MilitarySignatureRule{ind: ind},
		&PaymentRecruitmentRule{ind: ind},
		&AuthorizedExerciseRule{},
	}
}

// indicators holds the compiled keyword matchers shared by rules.
type indicators struct {
	military *regexp.Regexp
	payment  *regexp.Regexp
}

// currencyAmountRe matches "$500", "500 USD", "2.5k usdt", "€1,000".
var currencyAmountRe = regexp.MustCompile(
	`(?i)([$€£¥₽₴]\s?\d[\d,.]*k?|\b\d[\d,.]*\s?k?\s?(usd|usdt|usdc|eur|euros?|gbp|btc|eth|uah|rub|dollars?|hryvnia)\b)`)

func keywordRe(words []string) *regexp.Regexp {
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(w))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

func newIndicators(cfg Config) *indicators {
	return &indicators{
		military: keywordRe(cfg.MilitaryKeywords),
		payment:  keywordRe(cfg.PaymentKeywords),
	}
}

func (ind *indicators) militarySignature(equipment string) bool {
	return ind.military != nil && ind.military.MatchString(equipment)
}

// offersPayment reports whether post content carries a payment indicator.
func (ind *indicators) offersPayment(content string) bool {
	if currencyAmountRe.MatchString(content) {
		return true
	}
	return ind.payment != nil && ind.payment.MatchString(content)
}

// paymentPost returns the first neighborhood post offering payment.
func (ind *indicators) paymentPost(snap *Snapshot) (LinkedSignal, bool) {
	for _, ev := range snap.Signals {
		if ev.Signal.Kind == model.SignalPost && ind.offersPayment(ev.Signal.Content) {
			return ev, true
		}
	}
	return LinkedSignal{}, false
}

// MilitarySignatureRule classifies military equipment with no recruitment
// evidence as a state actor.
type MilitarySignatureRule struct{ ind *indicators }

func (r *MilitarySignatureRule) Name() string { return "military-signature" }

func (r *MilitarySignatureRule) Evaluate(snap *Snapshot) (model.OperationalClass, bool) {
	if !r.ind.militarySignature(snap.Incident.Equipment) {
		return "", false
	}
	if _, paid := r.ind.paymentPost(snap); paid {
		return "", false
	}
	return model.ClassStateActor, true
}

// PaymentRecruitmentRule classifies incidents near a payment-offering post
// as locally recruited.
type PaymentRecruitmentRule struct{ ind *indicators }

func (r *PaymentRecruitmentRule) Name() string { return "payment-recruitment" }

func (r *PaymentRecruitmentRule) Evaluate(snap *Snapshot) (model.OperationalClass, bool) {
	if _, ok := r.ind.paymentPost(snap); ok {
		return model.ClassRecruitedLocal, true
	}
	return "", false
}

// AuthorizedExerciseRule classifies announced exercises as friendly.
type AuthorizedExerciseRule struct{}

func (r *AuthorizedExerciseRule) Name() string { return "authorized-exercise" }

func (r *AuthorizedExerciseRule) Evaluate(snap *Snapshot) (model.OperationalClass, bool) {
	if snap.Incident.AuthorizedExercise {
		return model.ClassAuthorizedFriendly, true
	}
	return "", false
}
