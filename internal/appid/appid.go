package appid

import (
	"context"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Default is the identity compiled into the binary.
var Default = appidentity.Identity{
	Vendor:      "benetwork",
	BinaryName:  "benetwork",
	EnvPrefix:   "BENETWORK_",
	ConfigName:  "benetwork",
	Description: "Rate-limited, cached HTTP request orchestration",
}

// Get returns the application identity. An identity file named by
// FULMEN_APP_IDENTITY_PATH stays authoritative over the compiled default.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if strings.TrimSpace(os.Getenv(appidentity.EnvIdentityPath)) != "" {
		return appidentity.Get(ctx)
	}
	identity := Default
	return &identity, nil
}
