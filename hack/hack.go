package hack

import (
	_ "embed"
)

// SystemdUnitTemplate is the systemd service installed by `floorfix install`.
//
//go:embed floorfix.service
var SystemdUnitTemplate string
