package router

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"http 401", errors.New("API error (status 401): invalid x-api-key"), KindAuthentication},
		{"unauthorized text", errors.New("request unauthorized"), KindAuthentication},
		{"invalid api key", errors.New("Invalid API key provided"), KindAuthentication},
		{"missing bearer token", errors.New("bearer token authentication required: AWS_BEARER_TOKEN_BEDROCK is not set"), KindAuthentication},
		{"http 404", errors.New("API error (status 404): model does not exist"), KindNotFound},
		{"model not found", errors.New("the model was not found"), KindNotFound},
		{"http 429", errors.New("API error (status 429): slow down"), KindRateLimited},
		{"rate limit text", errors.New("rate limit exceeded, retry later"), KindRateLimited},
		{"timeout", errors.New("Post \"https://api\": net/http: request canceled (Client.Timeout exceeded)"), KindConnection},
		{"deadline", fmt.Errorf("sending request: %w", errors.New("context deadline exceeded")), KindConnection},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), KindConnection},
		{"dns", errors.New("dial tcp: lookup api.invalid: no such host"), KindConnection},
		{"server error", errors.New("API error (status 500): internal"), KindUnknown},
		{"garbage", errors.New("something odd happened"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// A message carrying both auth and rate-limit markers must classify
	// as authentication because that rule is evaluated first.
	err := errors.New("401 unauthorized after 429 retries")
	if got := Classify(err); got != KindAuthentication {
		t.Errorf("Classify() = %q, want authentication", got)
	}
}
