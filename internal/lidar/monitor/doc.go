// Package monitor serves the HTTP status page, the latest decoded scan in
// several formats, scan history charts and the tsweb debug console.
package monitor
