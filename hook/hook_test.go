package hook

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCall(t *testing.T) {
	tests := []struct {
		name    string
		try     func() error
		wantErr string
	}{
		{name: "success", try: func() error { return nil }},
		{name: "error", try: func() error { return errors.New("boom") }, wantErr: "caught: boom"},
		{name: "panic", try: func() error { panic("kaboom") }, wantErr: "caught: panic occurred during hook execution: kaboom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var order []string
			err := Call(Funcs{
				TryFn: func() error {
					order = append(order, "try")
					return tt.try()
				},
				CatchFn: func(err error) error {
					order = append(order, "catch")
					return errors.Wrap(err, "caught")
				},
				FinallyFn: func() { order = append(order, "finally") },
			})
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, []string{"try", "finally"}, order)
				return
			}
			require.EqualError(t, err, tt.wantErr)
			assert.Equal(t, []string{"try", "catch", "finally"}, order)
		})
	}
}

func TestCallNil(t *testing.T) {
	assert.Error(t, Call(nil))
}

func TestFuncsDefaults(t *testing.T) {
	err := Call(Funcs{TryFn: func() error { return errors.New("raw") }})
	assert.EqualError(t, err, "raw")
	assert.NoError(t, Call(Funcs{}))
}
