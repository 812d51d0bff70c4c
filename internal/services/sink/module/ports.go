package module

import "stallwatch/internal/services/sink/domain"

// Ports exposes the sink to the detection workers and the prune CLI
type Ports struct {
	Writer domain.WriterPort
	Query  domain.QueryPort
	Pruner domain.PrunerPort
}
