//go:build !unix && !windows

package privilege

import "fmt"

func isElevated() (bool, error) {
	return false, fmt.Errorf("privilege detection not supported on this platform")
}
