// Package grader compares program output against expected test case output.
package grader

import (
	"fmt"
	"strings"

	"codetutor-exec/model"
)

// RunFunc executes the submission for one test case and returns its stdout.
// A non-nil error means the run itself failed (timeout, crash, sandbox violation).
type RunFunc func(tc model.TestCase) (string, error)

// Grade runs every test case in order and reports each one. A failing case
// never stops the remaining ones from running.
func Grade(cases []model.TestCase, run RunFunc) model.TestResults {
	results := model.TestResults{Details: make([]model.TestResult, 0, len(cases))}

	for _, tc := range cases {
		result := gradeOne(tc, run)
		if result.Passed {
			results.Passed++
		} else {
			results.Failed++
		}
		results.Details = append(results.Details, result)
	}

	return results
}

func gradeOne(tc model.TestCase, run RunFunc) model.TestResult {
	expected := strings.TrimSpace(tc.ExpectedOutput)

	output, err := run(tc)
	if err != nil {
		return model.TestResult{
			TestID:   tc.ID,
			Passed:   false,
			Expected: expected,
			Actual:   "",
			Message:  "Error: " + err.Error(),
		}
	}

	return Compare(tc.ID, expected, output)
}

// Compare grades a single actual output against an expected value using
// trimmed exact equality.
func Compare(testID, expected, actual string) model.TestResult {
	expected = strings.TrimSpace(expected)
	actual = strings.TrimSpace(actual)

	result := model.TestResult{
		TestID:   testID,
		Passed:   expected == actual,
		Expected: expected,
		Actual:   actual,
	}
	if !result.Passed {
		result.Message = fmt.Sprintf("Expected '%s' but got '%s'", expected, actual)
	}
	return result
}
