// Package api serves the fleet control plane over HTTP: the agent-facing
// sync endpoints under /internal/v1/nodes/{nodeID} and node selection for
// allocation callers under /v1/pools/{poolID}/select.
package api
