package clients

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantFatal bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusForbidden, true},
		{http.StatusBadRequest, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := classifyStatus(ProviderDeepL, tt.status, "body")
			if got := IsFatal(err); got != tt.wantFatal {
				t.Errorf("IsFatal(classifyStatus(%d)) = %v, want %v", tt.status, got, tt.wantFatal)
			}
		})
	}
}

func TestIsFatalUnwrapsWrappedErrors(t *testing.T) {
	fatal := FatalError(ProviderOpenAI, errors.New("bad key"))
	wrapped := fmt.Errorf("call failed: %w", fatal)
	if !IsFatal(wrapped) {
		t.Error("IsFatal should see through wrapping")
	}

	transient := TransientError(ProviderOpenAI, errors.New("timeout"))
	if IsFatal(transient) {
		t.Error("transient error reported as fatal")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain error reported as fatal")
	}
}

func TestPairSupported(t *testing.T) {
	set := languageSet("en", "de", "fr")

	tests := []struct {
		name       string
		sourceLang string
		targetLang string
		want       bool
	}{
		{"both supported", "en", "de", true},
		{"auto source", "auto", "fr", true},
		{"empty source", "", "en", true},
		{"unknown source", "xx", "en", false},
		{"unknown target", "en", "xx", false},
		{"auto with unknown target", "auto", "xx", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pairSupported(set, tt.sourceLang, tt.targetLang); got != tt.want {
				t.Errorf("pairSupported(%q, %q) = %v, want %v", tt.sourceLang, tt.targetLang, got, tt.want)
			}
		})
	}
}

func TestEstimateCountsRunes(t *testing.T) {
	perUnit := decimal.RequireFromString("0.0000020")

	est := estimate("héllo", perUnit, "USD")
	if est.Units != 5 {
		t.Errorf("units = %d, want 5 (runes, not bytes)", est.Units)
	}
	want := perUnit.Mul(decimal.NewFromInt(5))
	if !est.Amount.Equal(want) {
		t.Errorf("amount = %s, want %s", est.Amount, want)
	}
	if est.Currency != "USD" {
		t.Errorf("currency = %q", est.Currency)
	}

	empty := estimate("", perUnit, "USD")
	if !empty.Amount.IsZero() {
		t.Errorf("empty text should cost zero, got %s", empty.Amount)
	}
}
