package ingest

import (
	"context"
	"fmt"

	"archivist/internal/jobspec"
	"archivist/internal/ledger"
	"archivist/internal/workflow"
)

type segmentHandler struct {
	svc *Service
}

func (h *segmentHandler) Kind() jobspec.Kind { return jobspec.KindIngestSegment }

func (h *segmentHandler) Handle(ctx context.Context, job *ledger.Job, payload jobspec.Payload) error {
	in, ok := payload.(jobspec.IngestSegmentInput)
	if !ok {
		return fmt.Errorf("ingest handler: unexpected payload %T", payload)
	}
	_, err := h.svc.Segments.RunIngestJob(ctx, job, in)
	return err
}

func (h *segmentHandler) HealthCheck(ctx context.Context) workflow.Health {
	return h.svc.health(ctx, string(jobspec.KindIngestSegment))
}

type discoverHandler struct {
	svc *Service
}

func (h *discoverHandler) Kind() jobspec.Kind { return jobspec.KindDiscoverUnits }

func (h *discoverHandler) Handle(ctx context.Context, job *ledger.Job, payload jobspec.Payload) error {
	in, ok := payload.(jobspec.DiscoverUnitsInput)
	if !ok {
		return fmt.Errorf("discover handler: unexpected payload %T", payload)
	}
	_, err := h.svc.Discovery.RunDiscoverJob(ctx, job, in)
	return err
}

func (h *discoverHandler) HealthCheck(ctx context.Context) workflow.Health {
	return h.svc.health(ctx, string(jobspec.KindDiscoverUnits))
}

func (s *Service) health(ctx context.Context, name string) workflow.Health {
	if err := s.deps.Ledger.Ping(ctx); err != nil {
		return workflow.Unhealthy(name, fmt.Sprintf("ledger unreachable: %v", err))
	}
	if len(s.deps.Catalog.List()) == 0 {
		return workflow.Unhealthy(name, "no extraction templates loaded")
	}
	return workflow.Healthy(name)
}
