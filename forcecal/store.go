package forcecal

import (
	"fmt"

	"github.com/CK6170/forcecal-go/models"
)

// SampleStore holds wrench and reading samples correlated by insertion order.
// It is not safe for concurrent use; the session owns it.
type SampleStore struct {
	wrenches []models.WrenchSample
	readings []models.ReadingSample
}

func NewSampleStore() *SampleStore {
	return &SampleStore{}
}

func (s *SampleStore) AddWrench(w models.WrenchSample) {
	s.wrenches = append(s.wrenches, w)
}

func (s *SampleStore) AddReading(r models.ReadingSample) {
	s.readings = append(s.readings, r)
}

// Count returns the number of complete wrench/reading pairs.
func (s *SampleStore) Count() int {
	return min(len(s.wrenches), len(s.readings))
}

// WrenchCount and ReadingCount expose the raw list lengths, which differ
// while a reading is pending.
func (s *SampleStore) WrenchCount() int  { return len(s.wrenches) }
func (s *SampleStore) ReadingCount() int { return len(s.readings) }

func (s *SampleStore) WrenchAt(i int) (models.WrenchSample, error) {
	if i < 0 || i >= len(s.wrenches) {
		return models.WrenchSample{}, fmt.Errorf("%w: wrench %d of %d", ErrOutOfRange, i, len(s.wrenches))
	}
	return s.wrenches[i], nil
}

func (s *SampleStore) ReadingAt(i int) (models.ReadingSample, error) {
	if i < 0 || i >= len(s.readings) {
		return models.ReadingSample{}, fmt.Errorf("%w: reading %d of %d", ErrOutOfRange, i, len(s.readings))
	}
	return s.readings[i], nil
}

// Wrenches returns a copy of every recorded wrench, paired or not.
func (s *SampleStore) Wrenches() []models.WrenchSample {
	return append([]models.WrenchSample(nil), s.wrenches...)
}

// Readings returns a copy of every recorded reading, paired or not.
func (s *SampleStore) Readings() []models.ReadingSample {
	return append([]models.ReadingSample(nil), s.readings...)
}
