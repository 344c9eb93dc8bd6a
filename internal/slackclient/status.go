package slackclient

import (
	"encoding/json"
	"os"

	"github.com/localslackirc/bridge/internal/models"
)

// LoadStatus reads a persisted status blob from path, returning the zero
// value (not an error) if the file does not exist yet — a fresh install has
// no history to replay.
func LoadStatus(path string) (models.PersistedStatus, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.PersistedStatus{}, nil
	}
	if err != nil {
		return models.PersistedStatus{}, err
	}
	var status models.PersistedStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return models.PersistedStatus{}, err
	}
	return status, nil
}

// SaveStatus writes the client's current status blob to path.
func SaveStatus(path string, status models.PersistedStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
