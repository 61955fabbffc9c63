package httpstore

import (
	"context"
)

// UpgradeFrom is the version and track an upgrade applies to.
type UpgradeFrom struct {
	Version string `json:"version"`
	Track   string `json:"track"`
}

// Upgrade is a registered child canister upgrade, as listed by the parent canister.
type Upgrade struct {
	Version     string       `json:"version"`
	UpgradeFrom *UpgradeFrom `json:"upgrade_from,omitempty"`
	Timestamp   uint64       `json:"timestamp"`
	Assets      []string     `json:"assets"`
	Track       string       `json:"track"`
	Description string       `json:"description"`
}

// UpgradeRequest registers a new upgrade whose assets were uploaded beforehand.
type UpgradeRequest struct {
	Version     string       `json:"version"`
	UpgradeFrom *UpgradeFrom `json:"upgrade_from,omitempty"`
	Assets      []string     `json:"assets"`
	Track       string       `json:"track"`
	Description string       `json:"description"`
}

// Upgrades lists every upgrade registered on the parent canister.
func (c *Client) Upgrades(ctx context.Context) ([]Upgrade, error) {
	var upgrades []Upgrade
	if err := c.call(ctx, c.httpClient, "get_upgrades", struct{}{}, &upgrades); err != nil {
		return nil, err
	}
	return upgrades, nil
}

// CreateUpgrade registers an upgrade. An existing version+track is answered with ErrRejected.
func (c *Client) CreateUpgrade(ctx context.Context, request UpgradeRequest) error {
	if request.Assets == nil {
		request.Assets = []string{}
	}
	return c.call(ctx, c.httpClient, "create_upgrade", request, nil)
}
