// Package hack holds files that are embedded into the binary.
package hack

import _ "embed"

// SystemdUnitTemplate is the unit file of the daemon. /path/to/te5025 is
// replaced with the installed binary.
//
//go:embed te5025.service
var SystemdUnitTemplate string
