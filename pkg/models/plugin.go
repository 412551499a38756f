package models

import (
	"encoding/json"
	"time"
)

// PluginSpec is the opaque connection document attached to a Plugin.
// Connection holds adapter-specific parameters (credentials, topic names,
// table prefixes, ...) and is never interpreted by the core.
type PluginSpec struct {
	Connection map[string]interface{} `json:"connection,omitempty"`
	Exposes    []string                `json:"exposes,omitempty"`
	BaseURL    string                  `json:"baseUrl,omitempty"`
	Ports      []int                   `json:"ports,omitempty"`
	Namespace  string                  `json:"namespace,omitempty"`
	// InputSchemas maps an action name to a JSON Schema document its step
	// input must satisfy. An action missing from the map is unvalidated.
	InputSchemas map[string]json.RawMessage `json:"inputSchemas,omitempty"`
}

// Plugin is a registered external capability, addressed by id, offering a
// whitelist of actions.
type Plugin struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Image     string     `json:"image"`
	Digest    *string    `json:"digest,omitempty"`
	Version   string     `json:"version,omitempty"`
	Spec      PluginSpec `json:"spec"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ExposesAction reports whether action is permitted by the plugin's
// whitelist. An empty whitelist allows every action.
func (p *Plugin) ExposesAction(action string) bool {
	if len(p.Spec.Exposes) == 0 {
		return true
	}
	for _, a := range p.Spec.Exposes {
		if a == action {
			return true
		}
	}
	return false
}

// MarshalSpec serializes the plugin spec to JSON text for storage.
func (p *Plugin) MarshalSpec() (json.RawMessage, error) {
	return json.Marshal(p.Spec)
}
