package domain

import "net/http"

type RecordState string

const (
	StateAbsent    RecordState = ""
	StatePending   RecordState = "pending"
	StateSucceeded RecordState = "succeeded"
)

// StoredResponse é a resposta gravada para replay literal em retentativas.
type StoredResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// IdempotencyRecord transita absent -> pending -> succeeded, nunca para trás.
type IdempotencyRecord struct {
	State    RecordState     `json:"status"`
	Response *StoredResponse `json:"response,omitempty"`
}
