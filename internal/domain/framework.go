package domain

// Control is a single requirement within a framework
type Control struct {
	ID                     string   `json:"control_id" yaml:"id"`
	Title                  string   `json:"title" yaml:"title"`
	Description            string   `json:"description" yaml:"description"`
	Category               string   `json:"category" yaml:"category"`
	ControlType            string   `json:"control_type" yaml:"control_type"`
	ImplementationGuidance []string `json:"implementation_guidance" yaml:"implementation_guidance"`
}

// ControlCatalog holds a framework's controls in catalog order
type ControlCatalog struct {
	Framework   string    `json:"framework"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Controls    []Control `json:"controls"`
}

// Control looks up a control by id
func (c *ControlCatalog) Control(id string) (Control, bool) {
	for _, ctrl := range c.Controls {
		if ctrl.ID == id {
			return ctrl, true
		}
	}
	return Control{}, false
}

// ControlIDs returns the control ids in catalog order
func (c *ControlCatalog) ControlIDs() []string {
	ids := make([]string, 0, len(c.Controls))
	for _, ctrl := range c.Controls {
		ids = append(ids, ctrl.ID)
	}
	return ids
}

// FrameworkInfo describes a framework that projects can target
type FrameworkInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Category    string `json:"category"`
}

// ControlMatch is a search hit in the knowledge base
type ControlMatch struct {
	Framework   string `json:"framework"`
	ControlID   string `json:"control_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}
