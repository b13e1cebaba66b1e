package domain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/grundsalg/internal/domain"
)

func TestStrategyValid(t *testing.T) {
	for _, s := range domain.Strategies {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, domain.Strategy("rss").Valid())
	assert.False(t, domain.Strategy("").Valid())
}

func TestParseErrorWrapping(t *testing.T) {
	err := &domain.ClassificationError{
		URL: "https://example.dk/a",
		Err: &domain.ParseError{Field: "confidence", Msg: "out of range"},
	}

	assert.True(t, errors.Is(err, domain.ErrParse))

	var pe *domain.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "confidence", pe.Field)
	assert.Contains(t, err.Error(), "https://example.dk/a")
}

func TestIsTransient(t *testing.T) {
	assert.False(t, domain.IsTransient(nil))
	assert.True(t, domain.IsTransient(errors.New("boom")))
	assert.True(t, domain.IsTransient(&domain.FetchError{Transient: true}))
	assert.False(t, domain.IsTransient(fmt.Errorf("wrapped: %w", &domain.FetchError{Transient: false})))
}

func TestRunStatsCounts(t *testing.T) {
	s := domain.RunStats{ScrapeFailed: 1, ClassificationFailed: 2, ExtractionFailed: 3, ExtractionSuccess: 4}
	assert.Equal(t, 6, s.FailureCount())
	assert.Equal(t, 7, s.ExtractionAttempts())
	assert.Contains(t, s.Summary(), "proposals=0")
}
