package domain

// Agent describes a named agent as configured for a swarm.
type Agent struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Persona string `json:"persona,omitempty"`
}
