package meteofrance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/i474232898/meteo-histo/internal/climate"
)

func TestStationInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != stationInfoPath || r.URL.Query().Get("id-station") != "59343001" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`[{
			"id": "59343001",
			"nom": "LILLE-LESQUIN",
			"lieuDit": "AEROPORT",
			"bassin": "ARTOIS-PICARDIE",
			"dateFin": "",
			"positions": [
				{"latitude": 50.56, "longitude": 3.09, "altitude": 44},
				{"latitude": 50.57, "longitude": 3.0975, "altitude": 47}
			]
		}]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.Client(), srv.URL, &recordingSleeper{})
	st, err := client.StationInfo(context.Background(), "59343001")
	if err != nil {
		t.Fatalf("StationInfo: %v", err)
	}
	if st.Name != "LILLE-LESQUIN" || st.LieuDit != "AEROPORT" || st.Bassin != "ARTOIS-PICARDIE" {
		t.Errorf("station = %+v", st)
	}
	if st.Latitude != 50.57 || st.Longitude != 3.0975 || st.Altitude != 47 {
		t.Errorf("expected the latest position, got %+v", st)
	}
	if !st.Open {
		t.Errorf("station without end date reported closed")
	}
}

func TestStationInfoUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.Client(), srv.URL, &recordingSleeper{})
	_, err := client.StationInfo(context.Background(), "00000000")
	if status, ok := climate.UpstreamStatus(err); !ok || status != http.StatusNotFound {
		t.Fatalf("expected upstream 404, got %v", err)
	}
}

func TestListStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != stationListPath || r.URL.Query().Get("id-departement") != "59" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`[
			{"id": "59343001", "nom": "LILLE-LESQUIN", "posteOuvert": true, "typePoste": 0, "lon": 3.0975, "lat": 50.57, "alt": 47, "postePublic": true},
			{"id": "59183001", "nom": "DUNKERQUE", "posteOuvert": false, "typePoste": 1, "lon": 2.3383, "lat": 51.0543, "alt": 11, "postePublic": true},
			{"id": "", "nom": "BROKEN"}
		]`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.Client(), srv.URL, &recordingSleeper{})
	stations, err := client.ListStations(context.Background(), 59)
	if err != nil {
		t.Fatalf("ListStations: %v", err)
	}
	if len(stations) != 2 {
		t.Fatalf("expected 2 stations, got %+v", stations)
	}
	if stations[1].ID != "59183001" || stations[1].Open || stations[1].Latitude != 51.0543 {
		t.Errorf("second station = %+v", stations[1])
	}
}
