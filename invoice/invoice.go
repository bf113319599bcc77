// Package invoice defines invoices stored in the store
package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Vat is a tax rate
type Vat string

const (
	Vat23 Vat = "VAT_23"
	Vat8  Vat = "VAT_8"
	Vat5  Vat = "VAT_5"
	Vat0  Vat = "VAT_0"
	// exempt
	VatZW Vat = "VAT_ZW"
	// not subject to tax
	VatNP Vat = "VAT_NP"
)

var vatRates = map[Vat]decimal.Decimal{
	Vat23: decimal.RequireFromString("23"),
	Vat8:  decimal.RequireFromString("8"),
	Vat5:  decimal.RequireFromString("5"),
	Vat0:  decimal.Zero,
	VatZW: decimal.Zero,
	VatNP: decimal.Zero,
}

// Rate returns tax rate in percent
func (v Vat) Rate() decimal.Decimal {
	return vatRates[v]
}

func (v Vat) Valid() bool {
	_, ok := vatRates[v]
	return ok
}

func (v *Vat) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	vat := Vat(s)
	// empty is allowed so that Validate() can report it
	if s != "" && !vat.Valid() {
		return fmt.Errorf("invalid vat rate '%s'", s)
	}
	*v = vat
	return nil
}

type Car struct {
	RegistrationNumber string `json:"registrationNumber"`
	PersonalUse        bool   `json:"personalUse"`
}

type Company struct {
	TaxIdentificationNumber string          `json:"taxIdentificationNumber"`
	Name                    string          `json:"name"`
	Address                 string          `json:"address"`
	HealthInsurance         Amount `json:"healthInsurance"`
	PensionInsurance        Amount `json:"pensionInsurance"`
}

type Entry struct {
	Description string `json:"description"`
	Quantity    Amount `json:"quantity"`
	NetPrice    Amount `json:"netPrice"`
	VatValue    Amount `json:"vatValue"`
	VatRate     Vat    `json:"vatRate"`
	// nil if expense is not related to a car
	ExpenseRelatedToCar *Car `json:"expenseRelatedToCar,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ComputeVat sets VatValue from NetPrice and VatRate, rounded to cents
func (e *Entry) ComputeVat() {
	e.VatValue = NewAmount(e.NetPrice.Mul(e.VatRate.Rate()).Div(hundred).Round(2))
}

type Invoice struct {
	ID      int64     `json:"id"`
	Number  string    `json:"number"`
	Date    time.Time `json:"date"`
	Buyer   Company   `json:"buyer"`
	Seller  Company   `json:"seller"`
	Entries []Entry   `json:"entries"`
}

func (inv *Invoice) GetID() int64 {
	return inv.ID
}

func (inv *Invoice) SetID(id int64) {
	inv.ID = id
}

// NetTotal is a sum of net prices of all entries
func (inv *Invoice) NetTotal() decimal.Decimal {
	res := decimal.Zero
	for _, e := range inv.Entries {
		res = res.Add(e.NetPrice.Decimal)
	}
	return res
}

// VatTotal is a sum of tax values of all entries
func (inv *Invoice) VatTotal() decimal.Decimal {
	res := decimal.Zero
	for _, e := range inv.Entries {
		res = res.Add(e.VatValue.Decimal)
	}
	return res
}

func validateCompany(role string, c *Company) []string {
	var errs []string
	if strings.TrimSpace(c.TaxIdentificationNumber) == "" {
		errs = append(errs, role+".taxIdentificationNumber is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, role+".name is required")
	}
	return errs
}

// Validate returns an error listing all missing or invalid fields
func (inv *Invoice) Validate() error {
	var errs []string
	if inv.Date.IsZero() {
		errs = append(errs, "date is required")
	}
	errs = append(errs, validateCompany("buyer", &inv.Buyer)...)
	errs = append(errs, validateCompany("seller", &inv.Seller)...)
	for i, e := range inv.Entries {
		if strings.TrimSpace(e.Description) == "" {
			errs = append(errs, fmt.Sprintf("entries[%d].description is required", i))
		}
		if e.Quantity.IsNegative() {
			errs = append(errs, fmt.Sprintf("entries[%d].quantity can't be negative", i))
		}
		if !e.VatRate.Valid() {
			errs = append(errs, fmt.Sprintf("entries[%d].vatRate is invalid", i))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, ", "))
}
