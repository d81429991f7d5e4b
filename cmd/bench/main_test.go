package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFlags(t *testing.T) {
	tests := []struct {
		name           string
		n, ids, conc   int
		wantErrContain string
	}{
		{name: "defaults", n: 100000, ids: 1000, conc: 8},
		{name: "zero count", n: 0, ids: 1, conc: 1},
		{name: "zero concurrency", n: 10, ids: 1, conc: 0, wantErrContain: "--concurrency"},
		{name: "negative concurrency", n: 10, ids: 1, conc: -2, wantErrContain: "--concurrency"},
		{name: "zero ids", n: 10, ids: 0, conc: 1, wantErrContain: "--ids"},
		{name: "negative count", n: -1, ids: 1, conc: 1, wantErrContain: "--count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkFlags(tt.n, tt.ids, tt.conc)
			if tt.wantErrContain == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErrContain)
		})
	}
}
