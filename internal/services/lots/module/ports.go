package module

import "stallwatch/internal/services/lots/domain"

// Ports exposed by the lots module
type Ports struct {
	Supervisor domain.SupervisorPort
	View       domain.ViewPort
}
