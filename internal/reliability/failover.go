// Package reliability decides how admission behaves when a shared backend
// such as Redis cannot answer.
package reliability

import "fmt"

type FailureStrategy string

const (
	FailOpen   FailureStrategy = "fail_open"
	FailClosed FailureStrategy = "fail_closed"
)

func ParseStrategy(s string) (FailureStrategy, error) {
	switch FailureStrategy(s) {
	case FailOpen, FailClosed:
		return FailureStrategy(s), nil
	case "":
		return FailOpen, nil
	}
	return "", fmt.Errorf("unknown failure strategy %q", s)
}

// ShouldAllow reports whether a request may proceed after the backend
// returned err.
func ShouldAllow(strategy FailureStrategy, err error) bool {
	if err == nil {
		return true
	}
	return strategy == FailOpen
}
