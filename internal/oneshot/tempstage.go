package oneshot

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cortexdata/cortex/internal/domain"
)

// stageTemp writes resolved dataset bytes to a host-side scratch file
// whose path goes to the backend as OneShotRequest.DataPath; the
// backend's RunOneShot reads the data into the sandbox from that path.
func stageTemp(data []byte) (string, error) {
	dir := os.TempDir()
	path := filepath.Join(dir, "cortex-oneshot-"+uuid.NewString()+".parquet")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func cleanupTemp(path string) {
	_ = os.Remove(path)
}

func isTimeout(err error) bool {
	return errors.Is(err, domain.ErrTimeout)
}
