package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	notFound := &openai.APIError{HTTPStatusCode: http.StatusNotFound}
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", notFound)))

	assert.True(t, IsNotFound(&openai.RequestError{HTTPStatusCode: http.StatusNotFound}))

	assert.False(t, IsNotFound(&openai.APIError{HTTPStatusCode: http.StatusInternalServerError}))
	assert.False(t, IsNotFound(errors.New("plain failure")))
	assert.False(t, IsNotFound(nil))
}
