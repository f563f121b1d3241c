package resources

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gobuffalo/packr/v2"
)

var (
	versionOnce sync.Once
	version     string
	versionErr  error
)

// Version gets the current release version, read once from the packed
// templates/version.txt.
func Version() (string, error) {
	versionOnce.Do(func() {
		box := packr.New("Resources", "./templates")
		v, err := box.FindString("version.txt")
		if err != nil {
			versionErr = fmt.Errorf("error reading version: %w", err)
			return
		}
		version = strings.TrimSpace(v)
	})
	return version, versionErr
}
