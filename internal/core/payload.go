// Package core provides the expense domain model and payload validation.
//
// This file turns raw JSON request bodies into typed inputs. Every failure is
// reported as a *ValidationError so handlers never see partially parsed data.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExpenseInput is a validated create/patch payload with a normalized date.
type ExpenseInput struct {
	Amount      float64
	Description string
	Date        string
}

// DeleteInput is a validated delete payload.
type DeleteInput struct {
	ID   string
	Date string
}

// BudgetInput is a validated budget update payload.
type BudgetInput struct {
	WeeklyBudget float64
}

// ParseExpensePayload validates a create or patch body.
func ParseExpensePayload(body []byte) (ExpenseInput, error) {
	fields, verr := decodeObject(body)
	if verr != nil {
		return ExpenseInput{}, verr
	}

	amount, verr := numberField(fields, "amount")
	if verr != nil {
		return ExpenseInput{}, verr
	}
	desc, verr := stringField(fields, "description")
	if verr != nil {
		return ExpenseInput{}, verr
	}
	date, verr := dateField(fields, "date")
	if verr != nil {
		return ExpenseInput{}, verr
	}

	return ExpenseInput{Amount: amount, Description: desc, Date: date}, nil
}

// ParseDeletePayload validates a delete body and checks that its id matches
// the id addressed by the request path.
func ParseDeletePayload(body []byte, pathID string) (DeleteInput, error) {
	fields, verr := decodeObject(body)
	if verr != nil {
		return DeleteInput{}, verr
	}

	raw, ok := fields["id"]
	if !ok {
		return DeleteInput{}, invalidPayload(CodeMissing, "id", fmt.Errorf("missing field 'id'"))
	}
	id, err := scalarString(raw)
	if err != nil {
		return DeleteInput{}, invalidPayload(CodeType, "id", err)
	}
	if id != pathID {
		return DeleteInput{}, &ValidationError{
			Code:    CodeMisaligned,
			Message: "Argument misaligned",
			Field:   "id",
			Err:     fmt.Errorf(`expense id must match payload "id". %s supplied to address %s`, id, pathID),
		}
	}

	date, verr := dateField(fields, "date")
	if verr != nil {
		return DeleteInput{}, verr
	}
	return DeleteInput{ID: id, Date: date}, nil
}

// ParseBudgetPayload validates a budget update body.
func ParseBudgetPayload(body []byte) (BudgetInput, error) {
	fields, verr := decodeObject(body)
	if verr != nil {
		return BudgetInput{}, verr
	}
	v, verr := numberField(fields, "weekly_budget")
	if verr != nil {
		return BudgetInput{}, verr
	}
	return BudgetInput{WeeklyBudget: v}, nil
}

// NormalizeDate parses s as an ISO calendar date and returns it in canonical form.
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return FormatDate(t), nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, *ValidationError) {
	if len(body) == 0 {
		return nil, invalidPayload(CodeMalformed, "", errors.New("empty request body"))
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invalidPayload(CodeMalformed, "", err)
	}
	if fields == nil {
		return nil, invalidPayload(CodeMalformed, "", errors.New("payload must be a JSON object"))
	}
	return fields, nil
}

// numberField accepts a JSON number or a string holding a finite decimal number.
func numberField(fields map[string]json.RawMessage, name string) (float64, *ValidationError) {
	raw, ok := fields[name]
	if !ok {
		return 0, invalidPayload(CodeMissing, name, fmt.Errorf("missing field '%s'", name))
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if serr := json.Unmarshal(raw, &s); serr != nil {
			return 0, invalidPayload(CodeType, name, fmt.Errorf("field '%s' must be a number", name))
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr != nil {
			return 0, invalidPayload(CodeType, name, fmt.Errorf("could not convert string to number: %q", s))
		}
		v = parsed
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, invalidPayload(CodeType, name, fmt.Errorf("field '%s' must be finite", name))
	}
	return v, nil
}

func stringField(fields map[string]json.RawMessage, name string) (string, *ValidationError) {
	raw, ok := fields[name]
	if !ok {
		return "", invalidPayload(CodeMissing, name, fmt.Errorf("missing field '%s'", name))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", invalidPayload(CodeType, name, fmt.Errorf("field '%s' must be a string", name))
	}
	return s, nil
}

func dateField(fields map[string]json.RawMessage, name string) (string, *ValidationError) {
	s, verr := stringField(fields, name)
	if verr != nil {
		return "", verr
	}
	date, err := NormalizeDate(s)
	if err != nil {
		return "", invalidPayload(CodeDate, name, fmt.Errorf("invalid isoformat string: %q", s))
	}
	return date, nil
}

// scalarString renders a JSON string or number as text.
func scalarString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("field 'id' must be a string")
}
