package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/meteo-histo/internal/climate"
	"github.com/i474232898/meteo-histo/internal/logger"
)

var errHarvestDisabled = errors.New("station source not configured")

// HarvestReport summarises a departement sweep.
type HarvestReport struct {
	Departements int
	Listed       int
	Added        int
	Failed       map[int]error
}

// HarvestDepartements lists every station of the given departements and adds
// the ones not yet known to the station registry. A departement that fails to
// list is recorded and skipped.
func (s *Service) HarvestDepartements(ctx context.Context, departements []int) (HarvestReport, error) {
	report := HarvestReport{Failed: make(map[int]error)}
	if s.stations == nil || s.registry == nil {
		return report, errHarvestDisabled
	}
	log := s.log.WithField(logger.FieldComponent, "harvester")

	known, err := s.knownStations()
	if err != nil {
		return report, err
	}

	for _, dep := range departements {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Departements++

		list, err := s.stations.ListStations(ctx, dep)
		if err != nil {
			report.Failed[dep] = err
			log.WithField("departement", dep).Errorf("list stations: %v", err)
			continue
		}
		report.Listed += len(list)

		fresh := make([]climate.Station, 0, len(list))
		for _, st := range list {
			if _, ok := known[st.ID]; ok {
				continue
			}
			known[st.ID] = struct{}{}
			fresh = append(fresh, s.enrich(ctx, st, log))
		}

		added, err := s.registry.Append(fresh)
		if err != nil {
			return report, fmt.Errorf("record stations of departement %d: %w", dep, err)
		}
		report.Added += added
		log.WithField("departement", dep).Infof("%d stations listed, %d new", len(list), added)
	}
	return report, nil
}

// StationMetadata fetches one station's metadata and records it in the
// registry when it is new.
func (s *Service) StationMetadata(ctx context.Context, id climate.StationID) (climate.Station, error) {
	if s.stations == nil {
		return climate.Station{}, errHarvestDisabled
	}
	st, err := s.stations.StationInfo(ctx, id)
	if err != nil {
		return climate.Station{}, err
	}
	log := s.log.WithFields(logrus.Fields{logger.FieldComponent: "harvester", logger.FieldStation: id})
	st = s.enrich(ctx, st, log)

	if s.registry != nil {
		if _, err := s.registry.Append([]climate.Station{st}); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (s *Service) knownStations() (map[climate.StationID]struct{}, error) {
	existing, err := s.registry.Read()
	if err != nil {
		return nil, err
	}
	known := make(map[climate.StationID]struct{}, len(existing))
	for _, st := range existing {
		known[st.ID] = struct{}{}
	}
	return known, nil
}

// enrich fills commune and postal code from the geocoder. Lookup failures
// leave the station as it is.
func (s *Service) enrich(ctx context.Context, st climate.Station, log logrus.FieldLogger) climate.Station {
	if s.geocoder == nil || st.Commune != "" {
		return st
	}
	commune, postal, err := s.geocoder.Locate(ctx, st.Latitude, st.Longitude)
	if err != nil {
		log.WithField(logger.FieldStation, st.ID).Debugf("geocode: %v", err)
		return st
	}
	st.Commune, st.PostalCode = commune, postal
	return st
}
