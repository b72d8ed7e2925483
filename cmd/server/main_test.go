package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowsURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		listenAddr string
		want       string
	}{
		{listenAddr: "", want: "http://localhost:8080/v1/workflows"},
		{listenAddr: ":8080", want: "http://localhost:8080/v1/workflows"},
		{listenAddr: " :9000 ", want: "http://localhost:9000/v1/workflows"},
		{listenAddr: "0.0.0.0:8443", want: "http://localhost:8443/v1/workflows"},
		{listenAddr: "[::]:8080", want: "http://localhost:8080/v1/workflows"},
		{listenAddr: "ci.internal:8080", want: "http://ci.internal:8080/v1/workflows"},
		{listenAddr: "[::1]:8080", want: "http://[::1]:8080/v1/workflows"},
		{listenAddr: "ci.internal", want: "http://ci.internal/v1/workflows"},
	}

	for _, tt := range tests {
		t.Run(tt.listenAddr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, workflowsURL(tt.listenAddr))
		})
	}
}
