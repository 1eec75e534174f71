// Package file provides a file-based persistence implementation for local
// development and tests. Each collection lives in one JSON document under the
// root directory; a process-wide mutex serializes access, so a root must not
// be shared between processes.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dukex/provisioner/pkg/persistence"
)

const (
	purchasesCollection   = "purchases"
	credentialsCollection = "credentials"
	templatesCollection   = "templates"
	instancesCollection   = "instances"
	jobsCollection        = "jobs"
	executionsCollection  = "executions"
	onboardingCollection  = "onboarding"
)

// Persistence implements persistence.Persistence using the file system.
type Persistence struct {
	store *store
}

// NewPersistence creates a file persistence rooted at root. A file:// prefix is accepted.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{store: &store{root: cleanRoot, now: func() time.Time { return time.Now().UTC() }}}
}

func (fp *Persistence) Credentials() persistence.CredentialRepository {
	return &CredentialRepository{store: fp.store}
}

func (fp *Persistence) Purchases() persistence.PurchaseRepository {
	return &PurchaseRepository{store: fp.store}
}

func (fp *Persistence) Templates() persistence.TemplateRepository {
	return &TemplateRepository{store: fp.store}
}

func (fp *Persistence) Instances() persistence.InstanceRepository {
	return &InstanceRepository{store: fp.store}
}

func (fp *Persistence) Jobs() persistence.JobRepository {
	return &JobRepository{store: fp.store}
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return &ExecutionRepository{store: fp.store}
}

func (fp *Persistence) Onboarding() persistence.OnboardingRepository {
	return &OnboardingRepository{store: fp.store}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists or can be created.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(fp.store.root, 0750)
	if err != nil {
		return fmt.Errorf("file persistence root unavailable: %w", err)
	}

	return nil
}

type store struct {
	mu   sync.Mutex
	root string
	now  func() time.Time
}

func (s *store) path(collection string) string {
	return filepath.Join(s.root, collection+".json")
}

// load reads a collection. Callers hold s.mu.
func load[T any](s *store, collection string) (map[string]*T, error) {
	items := make(map[string]*T)

	body, err := os.ReadFile(s.path(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return items, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}

	err = json.Unmarshal(body, &items)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", collection, err)
	}

	return items, nil
}

// persist writes a collection atomically through a temp file. Callers hold s.mu.
func persist[T any](s *store, collection string, items map[string]*T) error {
	err := os.MkdirAll(s.root, 0750)
	if err != nil {
		return fmt.Errorf("failed to create persistence root: %w", err)
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", collection, err)
	}

	tmp := s.path(collection) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}

	err = os.Rename(tmp, s.path(collection))
	if err != nil {
		return fmt.Errorf("failed to replace %s: %w", collection, err)
	}

	return nil
}
