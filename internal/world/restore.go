package world

import (
	"errors"
	"fmt"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/snapshot"
	"rigidsync/broker/internal/state"
)

// State captures the complete world as records in ascending id order.
func (s *Sim) State() (*state.WorldState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.capture()
}

func (s *Sim) capture() (*state.WorldState, error) {
	settings := s.be.Settings()
	ws := &state.WorldState{Header: state.Header{
		FormatVersion:    snapshot.FormatVersion,
		Backend:          s.be.Name(),
		StepCount:        s.step,
		Gravity:          s.be.Gravity(),
		SolverIterations: settings.SolverIterations,
		Substeps:         settings.Substeps,
		TimeScale:        settings.TimeScale,
		Deterministic:    s.cfg.Tuning.Deterministic,
		Compliance:       settings.Compliance,
	}}
	for _, id := range s.reg.IDs(state.KindBody) {
		rec, err := s.body(id)
		if err != nil {
			return nil, err
		}
		ws.Bodies = append(ws.Bodies, rec)
	}
	for _, id := range s.sortedConstraintIDs() {
		ws.Constraints = append(ws.Constraints, s.constraints[id].rec)
	}
	for _, kind := range rigKinds {
		for _, id := range sortedRigIDs(s.rigs[kind]) {
			ws.Rigs = append(ws.Rigs, s.rigs[kind][id].Clone())
		}
	}
	return ws, nil
}

// Snapshot encodes the world with its backend's snapshot variant.
func (s *Sim) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	return s.encode()
}

func (s *Sim) encode() ([]byte, error) {
	variant, err := snapshot.ForBackend(s.be.Name())
	if err != nil {
		return nil, err
	}
	ws, err := s.capture()
	if err != nil {
		return nil, err
	}
	return snapshot.Encode(variant, ws)
}

// Hash returns the SHA-256 of the current snapshot.
func (s *Sim) Hash() (string, error) {
	buf, err := s.Snapshot()
	if err != nil {
		return "", err
	}
	return snapshot.Hash(buf), nil
}

// Restore decodes buf, selecting the variant from its magic, and rebuilds the world from it.
func (s *Sim) Restore(buf []byte) error {
	ws, _, err := snapshot.DecodeAny(buf)
	if err != nil {
		return err
	}
	return s.RestoreState(ws)
}

// RestoreState replaces the live world with ws. References are validated first; on any failure
// the previous world is left untouched.
func (s *Sim) RestoreState(ws *state.WorldState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	//1.- Validate every cross reference before destroying anything.
	if err := Validate(ws); err != nil {
		return err
	}
	sorted := ws.Clone()
	sorted.Sort()

	//2.- Build on a fresh engine instance so no solver state survives.
	fresh, err := backend.Open(s.cfg.Backend, backend.Config{Tuning: s.cfg.Tuning, Gravity: sorted.Header.Gravity, Logger: s.log})
	if err != nil {
		return err
	}
	if sorted.Header.Backend == "" || sorted.Header.Backend == fresh.Name() {
		fresh.Configure(backend.Settings{
			SolverIterations: sorted.Header.SolverIterations,
			Substeps:         sorted.Header.Substeps,
			TimeScale:        sorted.Header.TimeScale,
			Compliance:       sorted.Header.Compliance,
		})
	}
	previous := s.core
	s.core = newCore(fresh, s.log)
	if err := s.populate(sorted); err != nil {
		s.core = previous
		return errors.Join(fmt.Errorf("restore: %w", err), fresh.Close())
	}
	s.events.Reset()
	if err := previous.be.Close(); err != nil {
		s.log.Warn("closing replaced backend failed", logging.Error(err))
	}
	s.log.Debug("world restored",
		logging.Int("bodies", len(sorted.Bodies)),
		logging.Int("constraints", len(sorted.Constraints)),
		logging.Int("rigs", len(sorted.Rigs)),
		logging.Int64("step", int64(sorted.Header.StepCount)),
	)
	return nil
}

func (s *Sim) populate(ws *state.WorldState) error {
	//1.- Recorded ids are re-adopted, never renumbered.
	for _, rec := range ws.Bodies {
		if _, err := s.spawnBody(rec); err != nil {
			return fmt.Errorf("body %d: %w", rec.ID, err)
		}
	}
	for _, rec := range ws.Constraints {
		if _, err := s.addConstraint(rec); err != nil {
			return fmt.Errorf("constraint %d: %w", rec.ID, err)
		}
	}
	for _, rec := range ws.Rigs {
		if _, err := s.addRig(rec); err != nil {
			return fmt.Errorf("%s %d: %w", rec.Kind, rec.ID, err)
		}
	}
	s.step = ws.Header.StepCount
	return nil
}

// Validate checks ids are present and unique and that every reference resolves within ws.
func Validate(ws *state.WorldState) error {
	if ws == nil {
		return fmt.Errorf("%w: nil state", ErrInconsistentState)
	}
	bodies := make(map[state.StableID]bool, len(ws.Bodies))
	for _, rec := range ws.Bodies {
		if rec.ID == state.WorldAnchor || bodies[rec.ID] {
			return fmt.Errorf("%w: body id %d missing or duplicated", ErrInconsistentState, rec.ID)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: body %d: %v", ErrInconsistentState, rec.ID, err)
		}
		bodies[rec.ID] = true
	}
	known := func(id state.StableID) bool { return id == state.WorldAnchor || bodies[id] }

	constraints := make(map[state.StableID]bool, len(ws.Constraints))
	for _, rec := range ws.Constraints {
		if rec.ID == state.WorldAnchor || constraints[rec.ID] {
			return fmt.Errorf("%w: constraint id %d missing or duplicated", ErrInconsistentState, rec.ID)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("%w: constraint %d: %v", ErrInconsistentState, rec.ID, err)
		}
		if !known(rec.BodyA) || !known(rec.BodyB) {
			return fmt.Errorf("%w: constraint %d references a missing body", ErrInconsistentState, rec.ID)
		}
		constraints[rec.ID] = true
	}

	rigs := make(map[state.Kind]map[state.StableID]bool)
	for _, rec := range ws.Rigs {
		if rigs[rec.Kind] == nil {
			rigs[rec.Kind] = make(map[state.StableID]bool)
		}
		if rec.ID == state.WorldAnchor || rigs[rec.Kind][rec.ID] {
			return fmt.Errorf("%w: %s id %d missing or duplicated", ErrInconsistentState, rec.Kind, rec.ID)
		}
		rigs[rec.Kind][rec.ID] = true
		for _, id := range rec.Bodies() {
			if !bodies[id] {
				return fmt.Errorf("%w: %s %d references missing body %d", ErrInconsistentState, rec.Kind, rec.ID, id)
			}
		}
		if rec.Ragdoll != nil {
			for _, id := range rec.Ragdoll.Constraints {
				if !constraints[id] {
					return fmt.Errorf("%w: ragdoll %d references missing constraint %d", ErrInconsistentState, rec.ID, id)
				}
			}
		}
	}
	return nil
}
