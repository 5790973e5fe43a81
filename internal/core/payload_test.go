package core

import (
	"errors"
	"testing"
)

func TestParseExpensePayload(t *testing.T) {
	cases := []struct {
		name string
		body string
		want ExpenseInput
		code ValidationCode
	}{
		{"valid", `{"amount": 12.5, "description": "coffee", "date": "2024-01-08"}`, ExpenseInput{12.5, "coffee", "2024-01-08"}, ""},
		{"numeric string amount", `{"amount": " 3.20 ", "description": "bus", "date": "2024-01-09"}`, ExpenseInput{3.2, "bus", "2024-01-09"}, ""},
		{"integer amount", `{"amount": 4, "description": "x", "date": "2024-02-29"}`, ExpenseInput{4, "x", "2024-02-29"}, ""},
		{"empty body", ``, ExpenseInput{}, CodeMalformed},
		{"not json", `amount=1`, ExpenseInput{}, CodeMalformed},
		{"array", `[1,2]`, ExpenseInput{}, CodeMalformed},
		{"null", `null`, ExpenseInput{}, CodeMalformed},
		{"missing amount", `{"description": "x", "date": "2024-01-08"}`, ExpenseInput{}, CodeMissing},
		{"bad amount", `{"amount": "abc", "description": "x", "date": "2024-01-08"}`, ExpenseInput{}, CodeType},
		{"bool amount", `{"amount": true, "description": "x", "date": "2024-01-08"}`, ExpenseInput{}, CodeType},
		{"missing description", `{"amount": 1, "date": "2024-01-08"}`, ExpenseInput{}, CodeMissing},
		{"numeric description", `{"amount": 1, "description": 5, "date": "2024-01-08"}`, ExpenseInput{}, CodeType},
		{"bad date", `{"amount": 1, "description": "x", "date": "08/01/2024"}`, ExpenseInput{}, CodeDate},
		{"impossible date", `{"amount": 1, "description": "x", "date": "2023-02-29"}`, ExpenseInput{}, CodeDate},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseExpensePayload([]byte(tc.body))
			if tc.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tc.want {
					t.Fatalf("got %+v, want %+v", got, tc.want)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Code != tc.code {
				t.Fatalf("code = %s, want %s (err=%v)", verr.Code, tc.code, err)
			}
			if verr.Message != "Invalid payload" || verr.Details() == "" {
				t.Fatalf("unexpected message/details: %q / %q", verr.Message, verr.Details())
			}
		})
	}
}

func TestParseDeletePayload(t *testing.T) {
	in, err := ParseDeletePayload([]byte(`{"id": "abc", "date": "2024-01-08"}`), "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.ID != "abc" || in.Date != "2024-01-08" {
		t.Fatalf("unexpected input: %+v", in)
	}

	_, err = ParseDeletePayload([]byte(`{"id": "other", "date": "2024-01-08"}`), "abc")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Code != CodeMisaligned || verr.Message != "Argument misaligned" {
		t.Fatalf("expected misaligned error, got %v", err)
	}

	_, err = ParseDeletePayload([]byte(`{"date": "2024-01-08"}`), "abc")
	if !errors.As(err, &verr) || verr.Code != CodeMissing {
		t.Fatalf("expected missing id error, got %v", err)
	}

	_, err = ParseDeletePayload([]byte(`{"id": "abc"}`), "abc")
	if !errors.As(err, &verr) || verr.Code != CodeMissing {
		t.Fatalf("expected missing date error, got %v", err)
	}
}

func TestParseBudgetPayload(t *testing.T) {
	in, err := ParseBudgetPayload([]byte(`{"weekly_budget": "150"}`))
	if err != nil || in.WeeklyBudget != 150 {
		t.Fatalf("got %+v, err=%v", in, err)
	}
	if _, err := ParseBudgetPayload([]byte(`{"weekly_budget": "lots"}`)); err == nil {
		t.Fatal("expected error for non-numeric budget")
	}
	if _, err := ParseBudgetPayload([]byte(`{}`)); err == nil {
		t.Fatal("expected error for missing budget")
	}
}
