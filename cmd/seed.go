package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"reacher-sentinel/models"
	"reacher-sentinel/store"
)

type seedFile struct {
	Services []models.ServiceSpec `yaml:"services"`
}

func loadSeedFile(path string) ([]models.ServiceSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) ([]models.ServiceSpec, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, errors.New("seed file lists no services")
	}
	for i, spec := range f.Services {
		// contact positions follow list order
		for j := range spec.ContactMethods {
			spec.ContactMethods[j].Position = j
		}
		if err := store.ValidateService(spec.ToService()); err != nil {
			return nil, fmt.Errorf("services[%d] (%s): %w", i, spec.ServiceID, err)
		}
	}
	return f.Services, nil
}

// seedServices registers every spec; existing ids are replaced.
func seedServices(ctx context.Context, st store.Store, specs []models.ServiceSpec) (int, error) {
	for i, spec := range specs {
		if _, err := st.RegisterService(ctx, spec.ToService()); err != nil {
			return i, fmt.Errorf("register %s: %w", spec.ServiceID, err)
		}
	}
	return len(specs), nil
}
