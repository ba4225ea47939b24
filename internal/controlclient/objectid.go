package controlclient

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// DefaultMachineIDPath is where Linux hosts normally publish a stable
// machine identifier.
const DefaultMachineIDPath = "/etc/machine-id"

// ResolveObjectID implements spec.md §4.5's object_id derivation: prefer
// the host's machine-id file; if it is absent or empty (containers,
// non-Linux hosts), fall back to a UUID persisted at fallbackPath, created
// on first use, matching OS::getMachineId()'s role in
// original_source/src/app/source/controlplane/configcenter_client.cc.
func ResolveObjectID(machineIDPath, fallbackPath string) (string, error) {
	if data, err := os.ReadFile(machineIDPath); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return persistedUUID(fallbackPath)
}

func persistedUUID(path string) (string, error) {
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
