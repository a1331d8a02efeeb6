// Package dashboardassets embeds the broker's read-only dashboard: a
// static HTML/CSS/JS bundle served at /dashboard/*.
package dashboardassets

import "embed"

//go:embed static
var Static embed.FS
