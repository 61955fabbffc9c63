package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ic-communities/deployutils/batch"
)

// CanisterIDsPath returns where dfx keeps the canister ids of a network.
func CanisterIDsPath(network string) string {
	if network == "ic" {
		return "canister_ids.json"
	}
	return filepath.Join(".dfx", network, "canister_ids.json")
}

// ResolveCanisterID looks up the id of canister name on network in a canister_ids.json file
// of the form {"<name>": {"<network>": "<id>"}}.
func ResolveCanisterID(file, name, network string) (string, error) {
	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return "", &batch.ConfigurationError{Field: "canister_ids_file", Reason: fmt.Sprintf("%s not found, deploy the canisters first", file)}
	}
	if err != nil {
		return "", fmt.Errorf("read canister ids: %w", err)
	}

	var ids map[string]map[string]string
	if err := json.Unmarshal(data, &ids); err != nil {
		return "", fmt.Errorf("parse %s: %w", file, err)
	}

	id := ids[name][network]
	if id == "" {
		return "", &batch.ConfigurationError{Field: "canister_ids_file", Reason: fmt.Sprintf("has no %s canister on network %s", name, network)}
	}
	return id, nil
}
