package models

import "time"

// ServiceSpec is the wire form of a MonitoredService used by the config API
// and seed files. Durations travel as milliseconds.
type ServiceSpec struct {
	ServiceID             string          `json:"serviceId" yaml:"serviceId"`
	URL                   string          `json:"url" yaml:"url" binding:"required,url"`
	FrequencyMs           int64           `json:"frequencyMs" yaml:"frequencyMs" binding:"required,gt=0"`
	AlertingWindowMs      int64           `json:"alertingWindowMs" yaml:"alertingWindowMs" binding:"required,gt=0"`
	AllowedResponseTimeMs int64           `json:"allowedResponseTimeMs" yaml:"allowedResponseTimeMs" binding:"required,gt=0"`
	ContactMethods        []ContactMethod `json:"contactMethods" yaml:"contactMethods" binding:"required,len=2,dive"`
}

func (s ServiceSpec) ToService() MonitoredService {
	return MonitoredService{
		ServiceID:           s.ServiceID,
		URL:                 s.URL,
		Frequency:           time.Duration(s.FrequencyMs) * time.Millisecond,
		AlertingWindow:      time.Duration(s.AlertingWindowMs) * time.Millisecond,
		AllowedResponseTime: time.Duration(s.AllowedResponseTimeMs) * time.Millisecond,
		ContactMethods:      append([]ContactMethod(nil), s.ContactMethods...),
	}
}

func SpecFromService(svc MonitoredService) ServiceSpec {
	return ServiceSpec{
		ServiceID:             svc.ServiceID,
		URL:                   svc.URL,
		FrequencyMs:           svc.Frequency.Milliseconds(),
		AlertingWindowMs:      svc.AlertingWindow.Milliseconds(),
		AllowedResponseTimeMs: svc.AllowedResponseTime.Milliseconds(),
		ContactMethods:        svc.ContactMethods,
	}
}
