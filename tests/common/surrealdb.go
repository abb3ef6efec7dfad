// Package common holds test fixtures shared across packages.
package common

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bobmcallan/tally/internal/common"
)

const (
	defaultSurrealImage = "surrealdb/surrealdb:v3.0.0"
	surrealUser         = "root"
	surrealPass         = "root"
	testNamespace       = "tally_test"
)

var (
	surrealOnce      sync.Once
	surrealContainer *SurrealDBContainer
	surrealError     error
)

// SurrealDBContainer wraps a testcontainers SurrealDB instance.
type SurrealDBContainer struct {
	container testcontainers.Container
	address   string
}

// SurrealEnabled reports whether container-backed tests were requested.
func SurrealEnabled() bool {
	return os.Getenv("TALLY_TEST_SURREALDB") == "true"
}

// StartSurrealDB starts the SurrealDB container shared by every test in the
// process. TALLY_TEST_SURREALDB_IMAGE overrides the image.
func StartSurrealDB(t *testing.T) *SurrealDBContainer {
	t.Helper()

	surrealOnce.Do(func() {
		ctx := context.Background()

		image := os.Getenv("TALLY_TEST_SURREALDB_IMAGE")
		if image == "" {
			image = defaultSurrealImage
		}

		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        image,
				ExposedPorts: []string{"8000/tcp"},
				Cmd:          []string{"start", "--user", surrealUser, "--pass", surrealPass},
				WaitingFor: wait.ForAll(
					wait.ForListeningPort("8000/tcp"),
					wait.ForLog("Started web server"),
				).WithDeadline(60 * time.Second),
			},
			Started: true,
		})
		if err != nil {
			surrealError = fmt.Errorf("start SurrealDB container: %w", err)
			return
		}

		endpoint, err := container.PortEndpoint(ctx, "8000/tcp", "ws")
		if err != nil {
			container.Terminate(ctx)
			surrealError = fmt.Errorf("resolve SurrealDB endpoint: %w", err)
			return
		}

		surrealContainer = &SurrealDBContainer{
			container: container,
			address:   endpoint + "/rpc",
		}
	})

	if surrealError != nil {
		t.Fatalf("SurrealDB container failed: %v", surrealError)
	}
	return surrealContainer
}

// Address returns the WebSocket RPC address.
func (c *SurrealDBContainer) Address() string {
	return c.address
}

// StorageConfig returns a storage configuration pointing at a database that
// no other test uses.
func (c *SurrealDBContainer) StorageConfig(t *testing.T) common.StorageConfig {
	t.Helper()
	// Subtest names contain "/", which SurrealDB rejects in database names.
	name := strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(t.Name())
	return common.StorageConfig{
		Backend:   "surrealdb",
		Address:   c.address,
		Namespace: testNamespace,
		Database:  fmt.Sprintf("t_%s_%d", name, time.Now().UnixNano()%100000),
		Username:  surrealUser,
		Password:  surrealPass,
	}
}

// Cleanup terminates the container. Call from TestMain if needed.
func (c *SurrealDBContainer) Cleanup() {
	if c != nil && c.container != nil {
		c.container.Terminate(context.Background())
	}
}
