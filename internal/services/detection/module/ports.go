package module

import (
	"stallwatch/internal/core/smoother"
	"stallwatch/internal/services/detection/domain"
)

// Ports exposes the smoother banks and the detector for readiness checks
type Ports struct {
	Banks    *smoother.Banks
	Detector domain.Detector
}
