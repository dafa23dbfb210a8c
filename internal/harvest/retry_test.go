package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	live := context.Background()
	done, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want bool
	}{
		{"nil error", live, nil, false},
		{"server error", live, &StatusError{StatusCode: 500}, true},
		{"too many requests", live, &StatusError{StatusCode: 429}, true},
		{"not found", live, &StatusError{StatusCode: 404}, false},
		{"attempt timeout", live, fmt.Errorf("colly: %w", context.DeadlineExceeded), true},
		{"canceled", live, context.Canceled, false},
		{"net timeout", live, timeoutErr{timeout: true}, true},
		{"net permanent", live, timeoutErr{timeout: false}, false},
		{"unknown error", live, errors.New("eof"), true},
		{"batch done", done, &StatusError{StatusCode: 503}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, shouldRetry(tt.ctx, tt.err))
		})
	}
}
