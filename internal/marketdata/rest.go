package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"trade-assistv1/internal/model"
	"trade-assistv1/pkg/quoteapi"
)

// RESTProvider implements model.QuoteProvider over the provider's REST API.
type RESTProvider struct {
	client *quoteapi.Client
}

// NewRESTProvider wraps an authenticated quoteapi client.
func NewRESTProvider(client *quoteapi.Client) *RESTProvider {
	return &RESTProvider{client: client}
}

// FetchQuote fetches the latest quote and returns it as a Stock snapshot.
func (p *RESTProvider) FetchQuote(ctx context.Context, symbol string) (model.Stock, error) {
	q, err := p.client.Quote(ctx, symbol)
	if err != nil {
		return model.Stock{}, mapError("fetch quote", symbol, err)
	}
	price, err := decimal.NewFromString(q.Price)
	if err != nil {
		return model.Stock{}, &NetworkError{Op: "fetch quote", Err: fmt.Errorf("bad price %q: %w", q.Price, err)}
	}
	return model.NewStock(q.Symbol, q.Name, price, q.TS, nil)
}

// FetchHistory fetches historical bars as ordered price points.
func (p *RESTProvider) FetchHistory(ctx context.Context, symbol string, r model.HistoryRange) ([]model.PricePoint, error) {
	candles, err := p.client.Candles(ctx, symbol, r.From, r.To)
	if err != nil {
		return nil, mapError("fetch history", symbol, err)
	}
	points := make([]model.PricePoint, 0, len(candles))
	for _, c := range candles {
		pt, err := toPricePoint(c)
		if err != nil {
			return nil, &NetworkError{Op: "fetch history", Err: err}
		}
		points = append(points, pt)
	}
	return points, nil
}

func toPricePoint(c quoteapi.CandleData) (model.PricePoint, error) {
	var pt model.PricePoint
	var err error
	if pt.Open, err = decimal.NewFromString(c.Open); err != nil {
		return pt, fmt.Errorf("bad open %q: %w", c.Open, err)
	}
	if pt.High, err = decimal.NewFromString(c.High); err != nil {
		return pt, fmt.Errorf("bad high %q: %w", c.High, err)
	}
	if pt.Low, err = decimal.NewFromString(c.Low); err != nil {
		return pt, fmt.Errorf("bad low %q: %w", c.Low, err)
	}
	if pt.Close, err = decimal.NewFromString(c.Close); err != nil {
		return pt, fmt.Errorf("bad close %q: %w", c.Close, err)
	}
	pt.TS = c.TS
	pt.Volume = c.Volume
	return pt, nil
}

// mapError converts quoteapi failures into the provider error kinds the core
// exposes: 404s become NotFoundError, everything else a NetworkError.
func mapError(op, symbol string, err error) error {
	var apiErr *quoteapi.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatus == http.StatusNotFound {
		return &NotFoundError{Symbol: symbol}
	}
	return &NetworkError{Op: op, Err: err}
}
