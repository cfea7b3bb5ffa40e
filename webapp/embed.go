// Package webapp embeds the dashboard single-page app.
package webapp

import "embed"

// Assets holds the built web app served under /app/.
//
//go:embed index.html app.js style.css
var Assets embed.FS
