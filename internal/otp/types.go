package otp

import (
	"fmt"
)

// Type identifies the flow an OTP belongs to. The set is closed: every Type
// must have a name below and a route wherever services are wired with
// Registry.RegisterAll.
type Type int

const (
	TypeGeneral Type = iota
	TypeRegister
	TypeLoginNewDevice
	TypeForgotPassword
	TypeWithdraw
	TypeBankWithdraw
	TypeTrading
	TypeTermDepositPurchase
	TypeEContractSigning
	TypeLoanApplication
	TypeLoanPayment
	TypeBankTransfer

	numTypes
)

var typeNames = [...]string{
	TypeGeneral:             "general",
	TypeRegister:            "register",
	TypeLoginNewDevice:      "login-new-device",
	TypeForgotPassword:      "forgot-password",
	TypeWithdraw:            "withdraw",
	TypeBankWithdraw:        "bank-withdraw",
	TypeTrading:             "trading",
	TypeTermDepositPurchase: "term-deposit-purchase",
	TypeEContractSigning:    "econtract-signing",
	TypeLoanApplication:     "loan-application",
	TypeLoanPayment:         "loan-payment",
	TypeBankTransfer:        "bank-transfer",
}

// Fails to compile when a Type is added without a name.
var _ = [1]struct{}{}[len(typeNames)-int(numTypes)]

// Types returns every OTP type in declaration order.
func Types() []Type {
	out := make([]Type, 0, numTypes)
	for t := Type(0); t < numTypes; t++ {
		out = append(out, t)
	}
	return out
}

// Valid reports whether t is one of the declared types.
func (t Type) Valid() bool {
	return t >= 0 && t < numTypes
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", int(t))
	}
	return typeNames[t]
}

// ParseType returns the Type with the given wire name.
func ParseType(s string) (Type, error) {
	for t := Type(0); t < numTypes; t++ {
		if typeNames[t] == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(typeNames[t]), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
