package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"codetutor-exec/model"
)

func runCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	language := fs.String("lang", "", "language identifier (javascript, typescript, csharp, python, ...)")
	gateway := fs.String("gateway", "http://localhost:3001", "execution gateway base URL")
	testsFile := fs.String("tests", "", "JSON file with an array of test cases")
	timeout := fs.Duration("timeout", 30*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("run needs exactly one source file")
	}

	code, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	req := model.ExecutionRequest{Language: *language, Code: string(code)}
	if *testsFile != "" {
		if req.TestCases, err = loadTestCases(*testsFile); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	status, outcome, err := submit(ctx, &http.Client{}, *gateway, req)
	if err != nil {
		return err
	}
	printOutcome(out, status, outcome)
	if !outcome.Success {
		return errors.New("execution failed")
	}
	return nil
}

func loadTestCases(path string) ([]model.TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test cases: %w", err)
	}
	var cases []model.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("parse test cases: %w", err)
	}
	return cases, nil
}

func submit(ctx context.Context, hc *http.Client, gateway string, req model.ExecutionRequest) (int, model.ExecutionOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, model.ExecutionOutcome{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(gateway, "/")+"/execute", bytes.NewReader(body))
	if err != nil {
		return 0, model.ExecutionOutcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(httpReq)
	if err != nil {
		return 0, model.ExecutionOutcome{}, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	var outcome model.ExecutionOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return resp.StatusCode, model.ExecutionOutcome{}, fmt.Errorf("decode gateway response (status %d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, outcome, nil
}

func printOutcome(w io.Writer, status int, outcome model.ExecutionOutcome) {
	green := color.New(color.FgGreen, color.Bold)
	red := color.New(color.FgRed, color.Bold)
	faint := color.New(color.Faint)

	if outcome.Success {
		green.Fprintf(w, "SUCCESS")
	} else {
		red.Fprintf(w, "FAILED")
	}
	faint.Fprintf(w, " (status %d, %dms)\n", status, outcome.ExecutionTimeMs)

	if outcome.Output != "" {
		fmt.Fprintln(w, outcome.Output)
	}
	if outcome.Error != nil {
		red.Fprintln(w, *outcome.Error)
	}

	if outcome.TestResults == nil {
		return
	}
	fmt.Fprintln(w)
	for _, r := range outcome.TestResults.Details {
		if r.Passed {
			green.Fprintf(w, "  PASS ")
			fmt.Fprintln(w, r.TestID)
			continue
		}
		red.Fprintf(w, "  FAIL ")
		fmt.Fprintf(w, "%s: %s\n", r.TestID, r.Message)
	}
	fmt.Fprintf(w, "%d passed, %d failed\n", outcome.TestResults.Passed, outcome.TestResults.Failed)
}
