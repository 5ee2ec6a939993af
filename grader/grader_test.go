package grader

import (
	"errors"
	"strings"
	"testing"

	"codetutor-exec/model"
)

func constRun(outputs map[string]string) RunFunc {
	return func(tc model.TestCase) (string, error) {
		return outputs[tc.ID], nil
	}
}

func TestGradeSingleMatch(t *testing.T) {
	t.Parallel()

	cases := []model.TestCase{{ID: "t1", ExpectedOutput: "25"}}
	results := Grade(cases, constRun(map[string]string{"t1": "25\n"}))

	if results.Passed != 1 || results.Failed != 0 {
		t.Fatalf("expected 1 passed 0 failed, got %d/%d", results.Passed, results.Failed)
	}
	if !results.Details[0].Passed {
		t.Fatalf("expected detail to pass: %+v", results.Details[0])
	}
	if results.Details[0].Message != "" {
		t.Fatalf("expected no message on pass, got %q", results.Details[0].Message)
	}
}

func TestGradeSingleCharacterDifference(t *testing.T) {
	t.Parallel()

	cases := []model.TestCase{{ID: "t1", ExpectedOutput: "hello"}}
	results := Grade(cases, constRun(map[string]string{"t1": "hellO"}))

	detail := results.Details[0]
	if detail.Passed {
		t.Fatalf("expected mismatch to fail")
	}
	if !strings.Contains(detail.Message, "hello") || !strings.Contains(detail.Message, "hellO") {
		t.Fatalf("message should mention both values, got %q", detail.Message)
	}
	if detail.Message != "Expected 'hello' but got 'hellO'" {
		t.Fatalf("unexpected message %q", detail.Message)
	}
}

func TestGradeRunErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	cases := []model.TestCase{
		{ID: "a", ExpectedOutput: "1"},
		{ID: "b", ExpectedOutput: "2"},
		{ID: "c", ExpectedOutput: "3"},
	}
	run := func(tc model.TestCase) (string, error) {
		if tc.ID == "b" {
			return "", errors.New("boom")
		}
		return map[string]string{"a": "1", "c": "3"}[tc.ID], nil
	}

	results := Grade(cases, run)
	if results.Passed != 2 || results.Failed != 1 {
		t.Fatalf("expected 2 passed 1 failed, got %d/%d", results.Passed, results.Failed)
	}

	failed := results.Details[1]
	if failed.TestID != "b" || failed.Passed {
		t.Fatalf("unexpected detail %+v", failed)
	}
	if failed.Actual != "" {
		t.Fatalf("expected empty actual on error, got %q", failed.Actual)
	}
	if failed.Message != "Error: boom" {
		t.Fatalf("unexpected message %q", failed.Message)
	}
}

func TestGradePreservesOrderAndAttemptsAll(t *testing.T) {
	t.Parallel()

	var calls []string
	cases := []model.TestCase{
		{ID: "first", ExpectedOutput: "x"},
		{ID: "second", ExpectedOutput: "y"},
		{ID: "third", ExpectedOutput: "z"},
	}
	run := func(tc model.TestCase) (string, error) {
		calls = append(calls, tc.ID)
		return "wrong", nil
	}

	results := Grade(cases, run)
	if len(calls) != 3 {
		t.Fatalf("expected all cases attempted, got %v", calls)
	}
	for i, tc := range cases {
		if results.Details[i].TestID != tc.ID {
			t.Fatalf("detail %d: expected %q, got %q", i, tc.ID, results.Details[i].TestID)
		}
	}
	if results.Failed != 3 {
		t.Fatalf("expected 3 failures, got %d", results.Failed)
	}
}

func TestGradeEmpty(t *testing.T) {
	t.Parallel()

	results := Grade(nil, constRun(nil))
	if results.Passed != 0 || results.Failed != 0 {
		t.Fatalf("expected zero counts, got %+v", results)
	}
	if results.Details == nil {
		t.Fatalf("expected non-nil details slice")
	}
}

func TestCompareTrimsBothSides(t *testing.T) {
	t.Parallel()

	result := Compare("id", "  42\n", "\t42  ")
	if !result.Passed {
		t.Fatalf("expected trimmed values to match: %+v", result)
	}
	if result.Expected != "42" || result.Actual != "42" {
		t.Fatalf("expected trimmed values in result, got %+v", result)
	}
}
