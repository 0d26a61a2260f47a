package control

import _ "embed"

//go:embed web/panel.html
var panelHTML []byte
