package checkout

import (
	"strings"

	"github.com/Niiaks/Chainpaye/pkg/constants"
	"github.com/Niiaks/Chainpaye/pkg/types"
)

type Method string

const (
	MethodNone Method = ""
	MethodBank Method = "bank"
	MethodCard Method = "card"
)

var cardCurrencies = map[string]bool{"GBP": true, "EUR": true, "USD": true}

func isNGN(l *types.PaymentLink) bool {
	return strings.EqualFold(l.Currency, "NGN")
}

func isUSDBank(l *types.PaymentLink) bool {
	return strings.EqualFold(l.Currency, "USD") &&
		strings.EqualFold(l.PaymentType, types.PaymentTypeBank) &&
		strings.EqualFold(l.Token, "USD")
}

func isCard(l *types.PaymentLink) bool {
	return strings.EqualFold(l.PaymentType, types.PaymentTypeCard) &&
		l.Token != "" &&
		cardCurrencies[strings.ToUpper(l.Currency)]
}

// EligibleMethods lists what the payer may choose for l. NGN and USD bank
// links cannot be paid by card; card links cannot be paid by bank transfer.
func EligibleMethods(l *types.PaymentLink) []Method {
	if l == nil {
		return nil
	}
	var out []Method
	if !isNGN(l) && !isUSDBank(l) {
		out = append(out, MethodCard)
	}
	if !isCard(l) {
		out = append(out, MethodBank)
	}
	return out
}

func isEligible(l *types.PaymentLink, m Method) bool {
	for _, e := range EligibleMethods(l) {
		if e == m {
			return true
		}
	}
	return false
}

// AutoSelect returns the only eligible method, if there is exactly one.
func AutoSelect(l *types.PaymentLink) (Method, bool) {
	eligible := EligibleMethods(l)
	if len(eligible) != 1 {
		return MethodNone, false
	}
	return eligible[0], true
}

// BankInstructions is what the payer needs to make the transfer.
type BankInstructions struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	RoutingNumber string `json:"routing_number,omitempty"`
	BankAddress   string `json:"bank_address,omitempty"`
	Amount        string `json:"amount"`
	Instruction   string `json:"instruction,omitempty"`
}

func bankInstructions(l *types.PaymentLink) *BankInstructions {
	if l == nil {
		return nil
	}
	amount := l.Currency + " " + l.Amount.StringFixed(2)
	resp := l.PaymentInitialization.Response

	switch {
	case resp.NGNBank != nil:
		d := resp.NGNBank
		if d.Amount.Valid {
			amount = l.Currency + " " + d.Amount.Decimal.StringFixed(2)
		}
		return &BankInstructions{
			BankName:      orNA(d.BankName),
			AccountName:   orNA(d.AccountName),
			AccountNumber: orNA(d.AccountNumber),
			Amount:        amount,
			Instruction:   d.Instruction,
		}
	case resp.USDBank != nil || isUSDBank(l):
		var instruction string
		if resp.USDBank != nil {
			instruction = resp.USDBank.Instruction
		}
		return &BankInstructions{
			BankName:      constants.USDBankName,
			AccountName:   constants.USDBankAccountName,
			AccountNumber: constants.USDBankAccountNumber,
			RoutingNumber: constants.USDBankRoutingNumber,
			BankAddress:   constants.USDBankAddress,
			Amount:        amount,
			Instruction:   instruction,
		}
	default:
		return nil
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
