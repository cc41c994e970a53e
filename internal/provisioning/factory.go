package provisioning

import (
	"fmt"
	"path/filepath"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/pkg/provisioning"
)

// New creates the backend selected by cfg. Local backends without a dir keep
// their resources under stateDir.
func New(cfg config.ProvisioningConfig, stateDir string) (provisioning.API, error) {
	switch cfg.Type {
	case "local":
		dir := cfg.Dir
		if dir == "" {
			dir = filepath.Join(stateDir, "resources")
		}
		return NewLocal(dir)
	case "azure":
		return NewAzure(AzureOptions{
			SubscriptionID: cfg.SubscriptionID,
			ResourceGroup:  cfg.ResourceGroup,
			Auth:           cfg.Options,
		})
	default:
		return nil, fmt.Errorf("unsupported provisioning type: %s", cfg.Type)
	}
}
