package correlation

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/abelbrown/sightline/internal/model"
	"github.com/abelbrown/sightline/internal/store"
)

// Financial links sizeable transactions to incidents within days of them.
type Financial struct {
	cfg FinancialConfig
}

// NewFinancial returns a financial matcher.
func NewFinancial(cfg FinancialConfig) *Financial { return &Financial{cfg: cfg} }

func (m *Financial) Name() string         { return "financial" }
func (m *Financial) Type() model.LinkType { return model.LinkFinancial }

func (m *Financial) Match(ctx context.Context, subject model.Entity, win Window) ([]model.Link, error) {
	switch {
	case subject.Signal != nil:
		tx := *subject.Signal
		if tx.Kind != model.SignalTransaction {
			return nil, nil
		}
		amount, err := m.normalize(tx)
		if err != nil {
			return nil, err
		}
		if amount < m.cfg.MinAmount {
			return nil, nil
		}
		incidents, err := collect(ctx, win.QueryIncidents(tx.Timestamp.Add(-m.cfg.MaxDelta), tx.Timestamp.Add(m.cfg.MaxDelta), nil))
		if err != nil {
			return nil, err
		}
		var out []model.Link
		for _, inc := range incidents {
			if l, ok := m.link(inc, tx, amount); ok {
				out = append(out, l)
			}
		}
		return out, nil

	case subject.Incident != nil:
		inc := *subject.Incident
		txs, err := collect(ctx, win.QuerySignals(store.SignalQuery{
			Start: inc.Timestamp.Add(-m.cfg.MaxDelta),
			End:   inc.Timestamp.Add(m.cfg.MaxDelta),
			Kind:  model.SignalTransaction,
		}))
		if err != nil {
			return nil, err
		}
		var out []model.Link
		for _, tx := range txs {
			amount, err := m.normalize(tx)
			if err != nil || amount < m.cfg.MinAmount {
				// Unconvertible transactions are reported when they are the subject.
				continue
			}
			if l, ok := m.link(inc, tx, amount); ok {
				out = append(out, l)
			}
		}
		return out, nil
	}
	return nil, nil
}

// normalize converts the transaction amount to the reference currency.
func (m *Financial) normalize(tx model.Signal) (float64, error) {
	if len(m.cfg.CurrencyRates) == 0 || tx.Currency == "" {
		return tx.Amount, nil
	}
	rate, ok := m.cfg.CurrencyRates[strings.ToUpper(tx.Currency)]
	if !ok {
		return 0, skipf("transaction %s: no rate for currency %s", tx.ID, tx.Currency)
	}
	return tx.Amount * rate, nil
}

func (m *Financial) link(inc model.Incident, tx model.Signal, amount float64) (model.Link, bool) {
	dt := absDelta(inc.Timestamp, tx.Timestamp)
	if dt > m.cfg.MaxDelta {
		return model.Link{}, false
	}
	amountScore := math.Min(amount/m.cfg.AmountScale, 1)
	conf := amountScore * decay(dt, m.cfg.MaxDelta)
	if conf <= 0 {
		return model.Link{}, false
	}
	ev := model.Evidence{
		"amount":          round6(amount),
		"amount_score":    round6(amountScore),
		"time_delta_days": round6(dt.Hours() / 24),
	}
	return model.NewLink(inc.Ref(), tx.Ref(), model.LinkFinancial, conf, ev, time.Time{}), true
}
