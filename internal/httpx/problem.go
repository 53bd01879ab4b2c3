package httpx

import (
	"encoding/json"
	"strings"
)

const problemMediaType = "application/problem+json"

// Well-known problem types that mean the request's goal already holds.
const (
	ProblemAlreadySelected   = "http://librarysimplified.org/terms/problem/already-selected"
	ProblemSelectionNotFound = "http://librarysimplified.org/terms/problem/selection-not-found"
	ProblemLoanLimitReached  = "http://librarysimplified.org/terms/problem/loan-limit-reached"
)

// Problem is an RFC 7807 problem report attached to an error response.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// Benign reports whether the problem means the caller is already in the
// state it was asking for.
func (p *Problem) Benign() bool {
	if p == nil {
		return false
	}
	switch p.Type {
	case ProblemAlreadySelected, ProblemSelectionNotFound:
		return true
	}
	return false
}

func parseProblem(contentType string, body []byte) *Problem {
	if !strings.HasPrefix(contentType, problemMediaType) {
		return nil
	}
	var p Problem
	if err := json.Unmarshal(body, &p); err != nil {
		return nil
	}
	return &p
}
