package common

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/portalsso/sso-server/internal/config"
)

// Exit codes shared by the ssoctl subcommands.
const (
	ExitOK          = 0
	ExitConfig      = 2
	ExitStore       = 3
	ExitCheckFailed = 4
)

// ExitError carries the process exit code a subcommand wants back to main.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func Exit(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// LoadEnvFile loads path without overriding variables already in the environment.
func LoadEnvFile(path string) error {
	return config.LoadEnvFile(path)
}

type CIResult struct {
	OK      bool     `json:"ok"`
	Title   string   `json:"title"`
	Details []string `json:"details"`
	Error   string   `json:"error,omitempty"`
}

func NewCIResult(ok bool, title string, details []string, err error) CIResult {
	res := CIResult{OK: ok, Title: title, Details: details}
	if res.Details == nil {
		res.Details = []string{}
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// PrintCIResult writes one JSON line to stdout for pipelines.
func PrintCIResult(ok bool, title string, details []string, err error) {
	out, mErr := json.Marshal(NewCIResult(ok, title, details, err))
	if mErr != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", mErr)
		return
	}
	fmt.Println(string(out))
}
