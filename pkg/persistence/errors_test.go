package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestEntityError(t *testing.T) {
	t.Parallel()

	t.Run("unwraps to the sentinel", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewEntityError("GetByID", "job", "job-123", persistence.ErrJobNotFound)

		assert.True(t, persistence.IsJobNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrJobNotFound))
		assert.False(t, persistence.IsInstanceNotFound(err))
	})

	t.Run("survives further wrapping", func(t *testing.T) {
		t.Parallel()

		err := fmt.Errorf("loading: %w", persistence.NewEntityError("Get", "template", "fakturering", persistence.ErrTemplateNotFound))

		assert.True(t, persistence.IsTemplateNotFound(err))
		assert.True(t, persistence.IsNotFound(err))

		var entityErr *persistence.EntityError
		assert.True(t, errors.As(err, &entityErr))
		assert.Equal(t, "template", entityErr.Entity)
	})

	t.Run("message contains context", func(t *testing.T) {
		t.Parallel()

		err := persistence.NewEntityError("Claim", "job", "", persistence.ErrNoJobAvailable)
		assert.Equal(t, "Claim job: no job available", err.Error())

		err = persistence.NewEntityError("GetByPurchase", "instance", "p-1", persistence.ErrInstanceNotFound)
		assert.Contains(t, err.Error(), "GetByPurchase")
		assert.Contains(t, err.Error(), "p-1")
		assert.Contains(t, err.Error(), "instance not found")
	})
}
