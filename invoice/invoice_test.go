package invoice

import (
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
	"github.com/shopspring/decimal"

	"github.com/kjk/invoicing/codec"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amt(s string) Amount {
	return RequireAmount(s)
}

func sampleInvoice() *Invoice {
	return &Invoice{
		Number: "2024/03/001",
		Date:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		Buyer: Company{
			TaxIdentificationNumber: "552-666-99-88",
			Name:                    "Buyer Ltd.",
			Address:                 "ul. Prosta 1, Warszawa",
			HealthInsurance:         amt("319.90"),
			PensionInsurance:        amt("514.57"),
		},
		Seller: Company{
			TaxIdentificationNumber: "123-456-78-90",
			Name:                    "Seller S.A.",
		},
		Entries: []Entry{
			{
				Description: "Dell X12 v3",
				Quantity:    amt("85"),
				NetPrice:    amt("1857.10"),
				VatValue:    amt("427.13"),
				VatRate:     Vat23,
			},
			{
				Description: "Fuel",
				Quantity:    amt("0.000000000000000000000001"),
				NetPrice:    amt("123456789012345678901234567890.123456789"),
				VatValue:    amt("0"),
				VatRate:     VatZW,
				ExpenseRelatedToCar: &Car{
					RegistrationNumber: "WX 12345",
					PersonalUse:        true,
				},
			},
		},
	}
}

func TestInvoiceRoundtrip(t *testing.T) {
	c := codec.NewJSON[*Invoice]()
	inv := sampleInvoice()
	inv.ID = 17
	line, err := c.Encode(inv)
	assert.NoError(t, err)
	assert.False(t, strings.Contains(line, "\n"))
	// decimals are strings, not floats
	assert.True(t, strings.Contains(line, `"netPrice":"123456789012345678901234567890.123456789"`))

	got, err := c.Decode(line)
	assert.NoError(t, err)
	line2, err := c.Encode(got)
	assert.NoError(t, err)
	assert.Equal(t, line, line2)

	assert.Equal(t, inv, got)

	id, err := c.DecodeID(line)
	assert.NoError(t, err)
	assert.Equal(t, int64(17), id)
}

func TestRoundtripKeepsScale(t *testing.T) {
	c := codec.NewJSON[*Invoice]()
	inv := sampleInvoice()
	inv.ID = 3
	inv.Entries[0].NetPrice = amt("1000.00")
	inv.Entries[0].VatValue = amt("230.50")
	inv.Entries[1].Quantity = amt("1.000")
	line, err := c.Encode(inv)
	assert.NoError(t, err)
	assert.True(t, strings.Contains(line, `"netPrice":"1000.00","vatValue":"230.50"`), line)
	assert.True(t, strings.Contains(line, `"quantity":"1.000"`), line)
	assert.True(t, strings.Contains(line, `"healthInsurance":"319.90"`), line)
	// unset amounts
	assert.True(t, strings.Contains(line, `"pensionInsurance":"0"`), line)

	got, err := c.Decode(line)
	assert.NoError(t, err)
	assert.Equal(t, inv, got)
}

func TestAmount(t *testing.T) {
	tests := []struct {
		in  string
		exp string
	}{
		{"0", "0"},
		{"0.00", "0.00"},
		{"12", "12"},
		{"12.50", "12.50"},
		{"-0.10", "-0.10"},
		{"1e3", "1000"},
		{"1.20e1", "12.0"},
	}
	for _, test := range tests {
		a := amt(test.in)
		assert.Equal(t, test.exp, a.String(), "in: %s", test.in)
		d, err := a.MarshalJSON()
		assert.NoError(t, err)
		assert.Equal(t, `"`+test.exp+`"`, string(d))

		var got Amount
		assert.NoError(t, got.UnmarshalJSON(d))
		assert.Equal(t, test.exp, got.String())
	}
	assert.Equal(t, Amount{}, amt("0"))
	assert.Equal(t, "0", Amount{}.String())

	var a Amount
	assert.Error(t, a.UnmarshalJSON([]byte(`"1,5"`)))
}

func TestDecodeNumericDecimal(t *testing.T) {
	// decimals written as JSON numbers by other tools keep their precision
	c := codec.NewJSON[*Invoice]()
	line := `{"id":1,"entries":[{"description":"x","quantity":1,"netPrice":0.1000000000000000055511151231257827,"vatValue":"0","vatRate":"VAT_0"}]}`
	got, err := c.Decode(line)
	assert.NoError(t, err)
	assert.Equal(t, "0.1000000000000000055511151231257827", got.Entries[0].NetPrice.String())
}

func TestInvalidVat(t *testing.T) {
	c := codec.NewJSON[*Invoice]()
	_, err := c.Decode(`{"id":1,"entries":[{"vatRate":"VAT_99"}]}`)
	assert.Error(t, err)
}

func TestVatRate(t *testing.T) {
	assert.True(t, Vat23.Rate().Equal(dec("23")))
	assert.True(t, Vat8.Rate().Equal(dec("8")))
	assert.True(t, VatZW.Rate().IsZero())
	assert.False(t, Vat("VAT_1").Valid())
}

func TestComputeVatAndTotals(t *testing.T) {
	inv := &Invoice{
		Entries: []Entry{
			{NetPrice: amt("1857.15"), VatRate: Vat23},
			{NetPrice: amt("10.10"), VatRate: Vat8},
			{NetPrice: amt("5"), VatRate: VatNP},
		},
	}
	for i := range inv.Entries {
		inv.Entries[i].ComputeVat()
	}
	assert.Equal(t, "427.14", inv.Entries[0].VatValue.StringFixed(2))
	assert.Equal(t, "0.81", inv.Entries[1].VatValue.StringFixed(2))
	assert.True(t, inv.Entries[2].VatValue.IsZero())
	assert.Equal(t, "1872.25", inv.NetTotal().StringFixed(2))
	assert.Equal(t, "427.95", inv.VatTotal().StringFixed(2))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sampleInvoice().Validate())

	inv := sampleInvoice()
	inv.Date = time.Time{}
	inv.Seller.Name = " "
	inv.Entries[1].Description = ""
	inv.Entries[1].Quantity = amt("-1")
	inv.Entries[0].VatRate = ""
	err := inv.Validate()
	assert.Error(t, err)
	msg := err.Error()
	for _, s := range []string{
		"date is required",
		"seller.name is required",
		"entries[1].description is required",
		"entries[1].quantity can't be negative",
		"entries[0].vatRate is invalid",
	} {
		assert.True(t, strings.Contains(msg, s), "'%s' not in '%s'", s, msg)
	}
	assert.False(t, strings.Contains(msg, "buyer"))
}
