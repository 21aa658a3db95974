package rpc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type structuredErr struct {
	Field string `json:"field"`
}

func (e structuredErr) Error() string { return "bad field " + e.Field }

type opaqueErr struct{ ch chan int }

func (opaqueErr) Error() string { return "opaque" }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not implemented", fmt.Errorf("x: %w", ErrNotImplemented), KindNotImplemented},
		{"invalid", InvalidArgument("n=%d", 3), KindInvalidArgument},
		{"not found", NotFound("k"), KindNotFound},
		{"internal", fmt.Errorf("%w: db", ErrInternal), KindInternal},
		{"other", errors.New("plain"), KindError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.err.Error(), got.Message)
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestClassify_Detail(t *testing.T) {
	se := structuredErr{Field: "x"}
	assert.Equal(t, se, Classify(se).Detail, "encodable errors are kept")

	assert.Equal(t, "opaque", Classify(opaqueErr{ch: make(chan int)}).Detail, "unencodable errors become strings")
	assert.Equal(t, "plain", Classify(errors.New("plain")).Detail)
}

func TestClassify_PassesThroughRPCError(t *testing.T) {
	orig := &Error{Kind: KindNotFound, Message: "m"}
	assert.Same(t, orig, Classify(fmt.Errorf("wrap: %w", orig)))
}
