package meteofrance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/i474232898/meteo-histo/internal/climate"
)

type stationPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

type stationInfoPayload struct {
	ID        string            `json:"id"`
	Name      string            `json:"nom"`
	LieuDit   string            `json:"lieuDit"`
	Bassin    string            `json:"bassin"`
	DateFin   string            `json:"dateFin"`
	Positions []stationPosition `json:"positions"`
}

type stationListPayload struct {
	ID        string  `json:"id"`
	Name      string  `json:"nom"`
	Open      bool    `json:"posteOuvert"`
	Type      int     `json:"typePoste"`
	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	Altitude  float64 `json:"alt"`
	Public    bool    `json:"postePublic"`
}

// StationInfo returns the metadata of one station. The upstream answers with a
// one-element array; the last listed position is the current one.
func (c *Client) StationInfo(ctx context.Context, id climate.StationID) (climate.Station, error) {
	op := "station info " + id.String()
	body, err := c.getJSON(ctx, op, stationInfoPath, url.Values{"id-station": {id.String()}})
	if err != nil {
		return climate.Station{}, err
	}

	var infos []stationInfoPayload
	if err := json.Unmarshal(body, &infos); err != nil {
		return climate.Station{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(infos) == 0 {
		return climate.Station{}, fmt.Errorf("%s: empty station information", op)
	}

	info := infos[0]
	st := climate.Station{
		ID:      id,
		Name:    info.Name,
		LieuDit: info.LieuDit,
		Bassin:  info.Bassin,
		Open:    info.DateFin == "",
	}
	if n := len(info.Positions); n > 0 {
		pos := info.Positions[n-1]
		st.Latitude, st.Longitude, st.Altitude = pos.Latitude, pos.Longitude, pos.Altitude
	}
	c.log.WithField("station", id).Info("station information retrieved")
	return st, nil
}

// ListStations returns the daily-data stations of a French department.
func (c *Client) ListStations(ctx context.Context, departement int) ([]climate.Station, error) {
	dep := strconv.Itoa(departement)
	op := "list stations " + dep
	body, err := c.getJSON(ctx, op, stationListPath, url.Values{"id-departement": {dep}})
	if err != nil {
		return nil, err
	}

	var list []stationListPayload
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}

	stations := make([]climate.Station, 0, len(list))
	for _, s := range list {
		if s.ID == "" {
			continue
		}
		stations = append(stations, climate.Station{
			ID:        climate.StationID(s.ID),
			Name:      s.Name,
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Altitude:  s.Altitude,
			Open:      s.Open,
		})
	}
	c.log.WithField("departement", departement).Infof("listed %d stations", len(stations))
	return stations, nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, values url.Values) ([]byte, error) {
	resp, err := c.http.do(ctx, op, func() (*http.Request, error) {
		return c.newRequest(path, values)
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status", resp.StatusCode).Errorf("%s failed: %s", op, resp.Body)
		return nil, &climate.UpstreamError{Op: op, Status: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Body, nil
}
