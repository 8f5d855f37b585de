package domain

import (
	"errors"
	"testing"
)

func TestMethodValidate(t *testing.T) {
	cases := []struct {
		name   string
		method Method
		want   error
	}{
		{
			name:   "valid upi",
			method: Method{Kind: KindUPI, HolderName: "Rahul Verma", UPI: &UPI{VPA: "rahul@okicici"}},
		},
		{
			name: "valid bank account",
			method: Method{
				Kind:        KindBankAccount,
				HolderName:  "Rahul Verma",
				BankAccount: &BankAccount{AccountNumber: "123456789012", IFSC: "HDFC0001234"},
			},
		},
		{
			name:   "missing holder name",
			method: Method{Kind: KindUPI, UPI: &UPI{VPA: "rahul@okicici"}},
			want:   ErrInvalidHolderName,
		},
		{
			name:   "unknown kind",
			method: Method{Kind: "wallet", HolderName: "Rahul Verma"},
			want:   ErrInvalidMethod,
		},
		{
			name:   "upi without details",
			method: Method{Kind: KindUPI, HolderName: "Rahul Verma"},
			want:   ErrInvalidVPA,
		},
		{
			name:   "malformed vpa",
			method: Method{Kind: KindUPI, HolderName: "Rahul Verma", UPI: &UPI{VPA: "not a vpa"}},
			want:   ErrInvalidVPA,
		},
		{
			name: "both variants set",
			method: Method{
				Kind:        KindUPI,
				HolderName:  "Rahul Verma",
				UPI:         &UPI{VPA: "rahul@okicici"},
				BankAccount: &BankAccount{AccountNumber: "123456789012", IFSC: "HDFC0001234"},
			},
			want: ErrInvalidMethod,
		},
		{
			name: "account number too short",
			method: Method{
				Kind:        KindBankAccount,
				HolderName:  "Rahul Verma",
				BankAccount: &BankAccount{AccountNumber: "12345", IFSC: "HDFC0001234"},
			},
			want: ErrInvalidAccount,
		},
		{
			name: "malformed ifsc",
			method: Method{
				Kind:        KindBankAccount,
				HolderName:  "Rahul Verma",
				BankAccount: &BankAccount{AccountNumber: "123456789012", IFSC: "HDFC1234"},
			},
			want: ErrInvalidIFSC,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.method.Validate()
			if tc.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}
