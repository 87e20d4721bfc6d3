package whpvr

import (
	"time"

	"whpvr/pkg/federation"
	"whpvr/pkg/types"
)

// Servers returns the live recording peers.
func (s *Service) Servers() []types.Device {
	registry := s.currentRegistry()
	if registry == nil {
		return nil
	}
	return devices(registry.Peers())
}

func (s *Service) AllRecordings() []types.Recording {
	registry := s.currentRegistry()
	if registry == nil {
		return nil
	}
	return registry.AllRecordings()
}

func (s *Service) RecordingsByFolderName(folder string) []types.Recording {
	registry := s.currentRegistry()
	if registry == nil {
		return nil
	}
	return registry.RecordingsByFolderName(folder)
}

func (s *Service) AllSchedules() []types.Schedule {
	registry := s.currentRegistry()
	if registry == nil {
		return nil
	}
	return registry.AllSchedules()
}

// The commands below report false when the feature is off or the target
// peer is no longer present.

func (s *Service) RequestEventRecording(udn string, meta types.RecordingMetadata) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.RequestEventRecording(udn, meta)
}

func (s *Service) RequestSeriesRecording(udn string, meta types.RecordingMetadata) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.RequestSeriesRecording(udn, meta)
}

func (s *Service) DeleteSeriesSchedule(udn, seriesID string) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.DeleteSeriesSchedule(udn, seriesID)
}

func (s *Service) DeleteSingleSchedule(udn string, ev types.EventRef) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.DeleteSingleSchedule(udn, ev)
}

func (s *Service) DeleteTask(task types.Task) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.DeleteTask(task)
}

func (s *Service) TaskByEvent(udn string, ev types.EventRef) (*types.Task, bool) {
	registry := s.currentRegistry()
	if registry == nil {
		return nil, false
	}
	return registry.GetTaskByEvent(udn, ev)
}

func (s *Service) UpdateTask(task types.Task, meta types.RecordingMetadata) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.UpdateTask(task, meta)
}

func (s *Service) SaveBookmark(task types.Task, position time.Duration) bool {
	registry := s.currentRegistry()
	return registry != nil && registry.SaveBookmark(task, position)
}

// SearchByCriteria fans q out to every peer. data receives each page of
// results; finished fires once for the round.
func (s *Service) SearchByCriteria(q types.SearchQuery, data federation.DataCallback, finished federation.FinishedCallback) error {
	registry := s.currentRegistry()
	if registry == nil {
		return ErrDisabled
	}
	registry.SearchByCriteria(q, data, finished)
	return nil
}

func (s *Service) SearchByActorsDirector(name string, exact bool, properties []string, sort string, data federation.DataCallback, finished federation.FinishedCallback) error {
	registry := s.currentRegistry()
	if registry == nil {
		return ErrDisabled
	}
	registry.SearchByActorsDirector(name, exact, properties, sort, data, finished)
	return nil
}
