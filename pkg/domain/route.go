package domain

// Route names a decision-pipeline variant.
type Route string

const (
	RouteLegacy Route = "legacy"
	RouteModel  Route = "model"
)

// RouteDecision is derived per turn from the conversation id and the canary
// configuration. It is never stored.
type RouteDecision struct {
	Route   Route `json:"route"`
	Bucket  int   `json:"bucket"`
	Enabled bool  `json:"enabled"`
	Percent int   `json:"percent"`
}
