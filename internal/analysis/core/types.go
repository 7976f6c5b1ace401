package core

import (
	"github.com/xkilldash9x/scalpel-sast/api/schemas"
)

// Reporter defines a standard, thread-safe interface for components that can
// publish the result of a scan, such as writing it to a file or stdout.
type Reporter interface {
	Write(result *schemas.ScanResult) error
}
