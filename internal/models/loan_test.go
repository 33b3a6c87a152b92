package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tax     TaxConfig
		wantErr bool
	}{
		{"zero rate", TaxConfig{Name: "none", Rate: MustMoney("0")}, false},
		{"positive rate", TaxConfig{Name: "VAT", Rate: MustMoney("16"), AppliedTo: []TaxComponent{TaxOnServiceFee, TaxOnPenalty}}, false},
		{"negative rate", TaxConfig{Name: "VAT", Rate: MustMoney("-5"), AppliedTo: []TaxComponent{TaxOnDailyFee}}, true},
		{"unknown component", TaxConfig{Name: "VAT", Rate: MustMoney("5"), AppliedTo: []TaxComponent{"principal"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tax.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTaxMisconfigured)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
