// Package judge is a client for a Judge0 compatible code execution API.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-contest/retry"
	"github.com/tcriess/lightspeed-contest/types"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	errPending             = errors.New("execution still pending")
)

const (
	statusProcessing = 2 // ids up to this one mean "in queue" or "processing"
	statusAccepted   = 3
)

type Options struct {
	URL          string
	APIKey       string
	APIHost      string
	PollAttempts int
	PollInterval time.Duration
	Timeout      time.Duration
}

// Client submits code to Judge0 and polls for the result.
type Client struct {
	baseURL string
	apiKey  string
	apiHost string
	http    *http.Client
	poll    retry.Policy
	logger  hclog.Logger
}

func NewClient(opts Options, logger hclog.Logger) *Client {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.PollAttempts < 1 {
		opts.PollAttempts = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(opts.URL, "/"),
		apiKey:  opts.APIKey,
		apiHost: opts.APIHost,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger,
	}
	c.poll = retry.Policy{
		MaxAttempts: opts.PollAttempts,
		Backoff:     retry.Constant(opts.PollInterval),
		Notify: func(err error, attempt int, wait time.Duration) {
			if !errors.Is(err, errPending) {
				c.logger.Debug("polling judge result failed", "attempt", attempt, "error", err)
			}
		},
	}
	return c
}

type submissionRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type submissionResponse struct {
	Token         string `json:"token"`
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Time          string `json:"time"`
	Memory        int64  `json:"memory"`
	ExitCode      *int   `json:"exit_code"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Result is the outcome of one execution.
type Result struct {
	Status   string
	StatusID int
	Output   string
	Error    string
	Time     string
	Memory   int64
	ExitCode *int
}

// Accepted reports whether the judge accepted the run.
func (r Result) Accepted() bool {
	return r.StatusID == statusAccepted
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
	}
	if c.apiHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.apiHost)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("judge api error: %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Execute runs code with the given stdin and waits for the result.
func (c *Client) Execute(ctx context.Context, code, language, stdin, expectedOutput string) (Result, error) {
	languageID, ok := LanguageID(language)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/submissions?base64_encoded=false&wait=false", submissionRequest{
		SourceCode:     code,
		LanguageID:     languageID,
		Stdin:          stdin,
		ExpectedOutput: expectedOutput,
	})
	if err != nil {
		return Result{}, err
	}
	submission := submissionResponse{}
	if err := c.do(req, &submission); err != nil {
		return Result{}, err
	}
	if submission.Token == "" {
		return Result{}, errors.New("judge api returned no token")
	}

	var res submissionResponse
	err = c.poll.Do(ctx, func(ctx context.Context) error {
		req, err := c.newRequest(ctx, http.MethodGet, "/submissions/"+submission.Token+"?base64_encoded=false", nil)
		if err != nil {
			return err
		}
		res = submissionResponse{}
		if err := c.do(req, &res); err != nil {
			return err
		}
		if res.Status.ID <= statusProcessing {
			return errPending
		}
		return nil
	})
	if errors.Is(err, errPending) {
		return Result{}, errors.New("timeout waiting for execution result")
	}
	if err != nil {
		return Result{}, err
	}
	errText := res.Stderr
	if errText == "" {
		errText = res.CompileOutput
	}
	if res.Time == "" {
		res.Time = "0"
	}
	return Result{
		Status:   res.Status.Description,
		StatusID: res.Status.ID,
		Output:   res.Stdout,
		Error:    errText,
		Time:     res.Time,
		Memory:   res.Memory,
		ExitCode: res.ExitCode,
	}, nil
}

// RunTestCases runs the code against every test case, one after the other. A test case passes if the judge
// accepted the run and the trimmed output equals the trimmed expected output. Failing runs are recorded in
// the result of their test case, only an unsupported language fails the whole call.
func (c *Client) RunTestCases(ctx context.Context, code, language string, testCases []types.TestCase) ([]types.TestResult, error) {
	if _, ok := LanguageID(language); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	results := make([]types.TestResult, 0, len(testCases))
	for _, tc := range testCases {
		res, err := c.Execute(ctx, code, language, tc.Input, tc.ExpectedOutput)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			results = append(results, types.TestResult{
				Input:          tc.Input,
				ExpectedOutput: tc.ExpectedOutput,
				Time:           "0",
				Error:          err.Error(),
			})
			continue
		}
		output := strings.TrimSpace(res.Output)
		results = append(results, types.TestResult{
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			ActualOutput:   output,
			Passed:         res.Accepted() && output == strings.TrimSpace(tc.ExpectedOutput),
			Time:           res.Time,
			Memory:         res.Memory,
			Error:          res.Error,
		})
	}
	return results, nil
}
