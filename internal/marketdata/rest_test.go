package marketdata

import (
	"errors"
	"net/http"
	"testing"

	"trade-assistv1/pkg/quoteapi"
)

func TestMapError_NotFound(t *testing.T) {
	apiErr := &quoteapi.APIError{HTTPStatus: http.StatusNotFound, Code: "AB1010", Message: "invalid symbol"}

	err := mapError("fetch quote", "NOPE", apiErr)

	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
	if nf.Symbol != "NOPE" {
		t.Errorf("symbol = %q, want NOPE", nf.Symbol)
	}
}

func TestMapError_Network(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"server error", &quoteapi.APIError{HTTPStatus: http.StatusInternalServerError, Message: "boom"}},
		{"transport failure", errors.New("dial tcp: connection refused")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError("fetch history", "ACME", tt.err)
			var ne *NetworkError
			if !errors.As(err, &ne) {
				t.Fatalf("expected NetworkError, got %T: %v", err, err)
			}
			if ne.Op != "fetch history" {
				t.Errorf("op = %q", ne.Op)
			}
			if !errors.Is(err, tt.err) && ne.Err != tt.err {
				t.Errorf("cause not preserved: %v", ne.Err)
			}
		})
	}
}

func TestToPricePoint_BadDecimal(t *testing.T) {
	c := quoteapi.CandleData{Open: "100", High: "not-a-number", Low: "99", Close: "101"}
	if _, err := toPricePoint(c); err == nil {
		t.Fatal("expected error for malformed high")
	}
}
