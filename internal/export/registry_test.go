package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposcribe/reposcribe/internal/config"
)

func TestRegistry(t *testing.T) {
	deps := Deps{
		Logger: testLogger(),
		Resources: config.ResourcesConfig{
			PullRequests: config.ResourceConfig{Enabled: true, MaxItems: 100, ChunkSize: 50},
			Issues:       config.ResourceConfig{Enabled: true, MaxItems: 100, ChunkSize: 50},
			Commits:      config.ResourceConfig{Enabled: false},
			Branches:     config.ResourceConfig{Enabled: true, MaxItems: 100, ChunkSize: 50},
			Releases:     config.ResourceConfig{Enabled: false},
		},
	}
	r := NewRegistry(deps)

	t.Run("serves enabled resources", func(t *testing.T) {
		exp, err := r.Get(ResourceIssues)
		require.NoError(t, err)
		assert.Equal(t, ResourceIssues, exp.ResourceType())
	})

	t.Run("rejects disabled resources", func(t *testing.T) {
		_, err := r.Get(ResourceCommits)
		assert.Error(t, err)
	})

	t.Run("rejects unknown resources", func(t *testing.T) {
		_, err := r.Get(Resource("wiki"))
		assert.Error(t, err)
	})

	t.Run("lists enabled resources in export order", func(t *testing.T) {
		assert.Equal(t, []Resource{ResourcePullRequests, ResourceIssues, ResourceBranches}, r.Enabled())
	})
}
