package postgresql_test

import (
	"testing"

	"github.com/dukex/provisioner/pkg/persistence"
	"github.com/dukex/provisioner/pkg/testutil"
)

func TestJobRepository(t *testing.T) {
	testutil.RunJobRepositorySuite(t, func(t *testing.T) persistence.JobRepository {
		t.Helper()

		p, _, _ := setupTestDB(t)

		return p.Jobs()
	})
}
