package usecase

import "time"

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ObserveDeviceOp(string, time.Duration, error) {}
func (NopMetrics) IncObservation(string)                        {}
func (NopMetrics) IncSession(string)                            {}
func (NopMetrics) AddCandidates(string, int)                    {}
