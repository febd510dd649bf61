package orchestrator

import (
	"context"
	"errors"

	"github.com/compozy/conductor/engine/collab"
	"github.com/compozy/conductor/engine/crew"
	"github.com/compozy/conductor/engine/report"
	"github.com/compozy/conductor/engine/store"
	"github.com/compozy/conductor/pkg/logger"
	pkgerrors "github.com/pkg/errors"
)

// CreateCrew validates spec, stores it as the next version of its id and
// returns the id.
func (s *Service) CreateCrew(ctx context.Context, spec *crew.Spec) (string, error) {
	ctx = s.withConfig(ctx)
	if spec != nil && spec.ID != "" {
		if err := s.loadCrew(ctx, spec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
	}
	c, err := s.crews.CreateCrew(ctx, spec)
	if err != nil {
		return "", err
	}
	payload, err := crew.EncodeJSON(c.Spec())
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to encode crew %s", c.ID)
	}
	if _, err := s.store.Put(ctx, &store.Record{
		Kind:    store.KindCrew,
		ID:      c.ID,
		Version: c.Version,
		Payload: payload,
	}); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to persist crew %s", c.ID)
	}
	return c.ID, nil
}

// ExecuteCrew runs the latest version of crewID, loading it from the store
// when this process has not seen it.
func (s *Service) ExecuteCrew(
	ctx context.Context,
	crewID string,
	input map[string]any,
) (*collab.CollaborationResult, error) {
	ctx = s.withConfig(ctx)
	if _, ok := s.crews.Crew(crewID); !ok {
		if err := s.loadCrew(ctx, crewID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	res, err := s.crews.ExecuteCrew(ctx, crewID, input)
	if err != nil {
		return nil, err
	}
	s.results.Add(res.ExecutionID.String(), &Execution{Crew: res})
	evt := report.NewEvent(report.KindCrew, res.CrewID, res.Version, res.ExecutionID.String())
	evt.Status = res.Status
	evt.Duration = res.Duration
	evt.TokensUsed = res.TokensUsed
	evt.CostEstimate = float64(res.TokensUsed) / 1000 * s.cfg.Report.CostPer1KTokens
	s.report(ctx, evt)
	return res, nil
}

// ExecuteCrewAsync runs ExecuteCrew on its own goroutine.
func (s *Service) ExecuteCrewAsync(
	ctx context.Context,
	crewID string,
	input map[string]any,
) <-chan Outcome[*collab.CollaborationResult] {
	return async(func() (*collab.CollaborationResult, error) {
		return s.ExecuteCrew(ctx, crewID, input)
	})
}

func (s *Service) loadCrew(ctx context.Context, id string) error {
	if _, ok := s.crews.Crew(id); ok {
		return nil
	}
	rec, err := s.store.Get(ctx, store.KindCrew, id)
	if err != nil {
		return err
	}
	spec, err := crew.DecodeJSON(rec.Payload)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to load crew %s v%d", id, rec.Version)
	}
	engine := s.cfg.Engine
	c, err := crew.New(spec, crew.Defaults{
		MaxConcurrentTasks: engine.DefaultMaxConcurrentTasks,
		PerformanceScore:   engine.InitialPerformanceScore,
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "stored crew %s v%d is invalid", id, rec.Version)
	}
	s.crews.Install(c.WithVersion(rec.ID, rec.Version))
	logger.FromContext(ctx).Debug("Crew loaded from store", "crew_id", id, "version", rec.Version)
	return nil
}
